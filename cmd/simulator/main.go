package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/geo"
	"github.com/ukydev/transit-proximity/internal/models"
)

// BusRoute is a closed loop of waypoints driven by every bus on the route.
type BusRoute struct {
	ID        string
	Waypoints []models.Location
}

// Bogotá trunk corridors
var routes = []BusRoute{
	{ID: "B12", Waypoints: []models.Location{
		{Lat: 4.6533, Lon: -74.0836},
		{Lat: 4.6682, Lon: -74.0721},
		{Lat: 4.6849, Lon: -74.0563},
		{Lat: 4.7110, Lon: -74.0721},
	}},
	{ID: "G43", Waypoints: []models.Location{
		{Lat: 4.5981, Lon: -74.0760},
		{Lat: 4.6097, Lon: -74.0817},
		{Lat: 4.6279, Lon: -74.0653},
		{Lat: 4.6365, Lon: -74.0830},
	}},
	{ID: "K10", Waypoints: []models.Location{
		{Lat: 4.6280, Lon: -74.1477},
		{Lat: 4.6300, Lon: -74.1200},
		{Lat: 4.6330, Lon: -74.0950},
	}},
}

// Bus is the simulated state of one vehicle.
type Bus struct {
	VehicleID string
	Route     *BusRoute
	Position  models.Location
	SpeedKmh  float64
	segIndex  int
	segOffset float64 // meters along current segment
}

func jitterLocation(base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// newBus places a bus at a random waypoint of route.
func newBus(vehicleID string, route *BusRoute) *Bus {
	start := rand.Intn(len(route.Waypoints))
	return &Bus{
		VehicleID: vehicleID,
		Route:     route,
		Position:  route.Waypoints[start],
		SpeedKmh:  20 + rand.Float64()*20,
		segIndex:  start,
	}
}

// Step advances the bus along its loop by the distance covered in elapsed.
func (b *Bus) Step(elapsed time.Duration) {
	points := b.Route.Waypoints
	if len(points) < 2 {
		return
	}
	rem := geo.KmhToMetersPerSecond(b.SpeedKmh) * elapsed.Seconds()
	for rem > 0 {
		a := points[b.segIndex]
		next := (b.segIndex + 1) % len(points)
		segLen := geo.DistanceMeters(a, points[next])
		left := segLen - b.segOffset
		if rem >= left {
			b.Position = points[next]
			b.segIndex = next
			b.segOffset = 0
			rem -= left
			continue
		}
		b.segOffset += rem
		b.Position = lerp(a, points[next], b.segOffset/segLen)
		rem = 0
	}
}

func (b *Bus) report() reportPayload {
	return reportPayload{
		RouteID:   b.Route.ID,
		VehicleID: b.VehicleID,
		Lat:       b.Position.Lat,
		Lng:       b.Position.Lon,
	}
}

type reportPayload struct {
	RouteID   string  `json:"route_id"`
	VehicleID string  `json:"vehicle_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// Publisher delivers a position report to the tracking service.
type Publisher interface {
	Publish(ctx context.Context, report reportPayload) error
}

type httpPublisher struct {
	url    string
	client *http.Client
}

func newHTTPPublisher(apiURL string) *httpPublisher {
	return &httpPublisher{
		url:    strings.TrimRight(apiURL, "/") + "/positions",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpPublisher) Publish(ctx context.Context, report reportPayload) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("report rejected with status: %d", resp.StatusCode)
	}
	return nil
}

type mqttPublisher struct {
	client paho.Client
	prefix string
}

func newMQTTPublisher(broker, prefix string) (*mqttPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("transit-simulator-%d", rand.Int63())).
		SetAutoReconnect(true)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return &mqttPublisher{client: client, prefix: prefix}, nil
}

func mqttTopic(prefix, routeID, vehicleID string) string {
	return strings.TrimRight(prefix, "/") + "/" + routeID + "/" + vehicleID
}

func (p *mqttPublisher) Publish(ctx context.Context, report reportPayload) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	token := p.client.Publish(mqttTopic(p.prefix, report.RouteID, report.VehicleID), 1, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func simulateBus(ctx context.Context, pub Publisher, b *Bus, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		b.SpeedKmh += (rand.Float64()*2 - 1) * 2
		b.SpeedKmh = math.Max(10, math.Min(b.SpeedKmh, 50))
		b.Step(interval)
		b.Position = jitterLocation(b.Position, 3)

		if err := pub.Publish(ctx, b.report()); err != nil {
			log.WithError(err).WithField("vehicle_id", b.VehicleID).Error("Failed to publish position")
			continue
		}
		log.WithFields(log.Fields{
			"vehicle_id": b.VehicleID,
			"route_id":   b.Route.ID,
			"lat":        b.Position.Lat,
			"lon":        b.Position.Lon,
		}).Debug("Published position")
	}
}

type simConfig struct {
	BusesPerRoute int
	APIURL        string
	Interval      time.Duration
	MQTTBroker    string
	MQTTPrefix    string
}

func configFromEnv() simConfig {
	cfg := simConfig{
		BusesPerRoute: 3,
		APIURL:        "http://localhost:8080/api",
		Interval:      2 * time.Second,
		MQTTPrefix:    "transit/positions",
	}
	if v := os.Getenv("BUSES_PER_ROUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.BusesPerRoute = n
		}
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Interval = time.Duration(n) * time.Second
		}
	}
	cfg.MQTTBroker = os.Getenv("SIM_MQTT_BROKER")
	if v := os.Getenv("SIM_MQTT_PREFIX"); v != "" {
		cfg.MQTTPrefix = v
	}
	return cfg
}

func buildFleet(busesPerRoute int) []*Bus {
	fleet := make([]*Bus, 0, busesPerRoute*len(routes))
	for i := range routes {
		for n := 1; n <= busesPerRoute; n++ {
			fleet = append(fleet, newBus(fmt.Sprintf("%s-%02d", routes[i].ID, n), &routes[i]))
		}
	}
	return fleet
}

func main() {
	cfg := configFromEnv()

	var pub Publisher = newHTTPPublisher(cfg.APIURL)
	if cfg.MQTTBroker != "" {
		mp, err := newMQTTPublisher(cfg.MQTTBroker, cfg.MQTTPrefix)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer mp.client.Disconnect(250)
		pub = mp
	}

	fleet := buildFleet(cfg.BusesPerRoute)
	log.WithFields(log.Fields{
		"buses":    len(fleet),
		"api_url":  cfg.APIURL,
		"mqtt":     cfg.MQTTBroker != "",
		"interval": cfg.Interval,
	}).Info("Starting transit simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, b := range fleet {
		wg.Add(1)
		go func(b *Bus) {
			defer wg.Done()
			simulateBus(ctx, pub, b, cfg.Interval)
		}(b)
	}
	wg.Wait()
	log.Info("Simulation stopped")
}
