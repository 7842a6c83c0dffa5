package models

// Location is a WGS-84 point in decimal degrees.
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lon float64 `bson:"lon" json:"lon"`
}

// Valid reports whether the point lies within latitude and longitude bounds.
// NaN is never valid.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}
