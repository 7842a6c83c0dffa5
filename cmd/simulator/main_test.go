package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ukydev/transit-proximity/internal/geo"
	"github.com/ukydev/transit-proximity/internal/models"
)

var testRoute = BusRoute{ID: "T1", Waypoints: []models.Location{
	{Lat: 0, Lon: 0},
	{Lat: 0, Lon: 0.01},
	{Lat: 0.01, Lon: 0.01},
}}

func TestJitterLocation(t *testing.T) {
	base := models.Location{Lat: 4.65, Lon: -74.08}
	for i := 0; i < 100; i++ {
		loc := jitterLocation(base, 50)
		if d := geo.DistanceMeters(base, loc); d > 75 {
			t.Fatalf("jitter moved %f meters", d)
		}
	}
}

func TestBusStep_AlongSegment(t *testing.T) {
	b := &Bus{VehicleID: "T1-01", Route: &testRoute, Position: testRoute.Waypoints[0], SpeedKmh: 36}

	b.Step(10 * time.Second) // 100 m

	moved := geo.DistanceMeters(testRoute.Waypoints[0], b.Position)
	if moved < 99 || moved > 101 {
		t.Errorf("Expected ~100 m, got %f", moved)
	}
	if b.Position.Lat != 0 {
		t.Errorf("Bus left the first segment: %+v", b.Position)
	}
}

func TestBusStep_WrapsAround(t *testing.T) {
	b := &Bus{VehicleID: "T1-01", Route: &testRoute, Position: testRoute.Waypoints[0], SpeedKmh: 36}

	// one full loop is roughly 1112 + 1112 + 1572 m
	b.Step(380 * time.Second)

	if b.segIndex != 0 {
		t.Errorf("Expected bus back on first segment, got segment %d", b.segIndex)
	}
	if d := geo.DistanceMeters(testRoute.Waypoints[0], b.Position); d > 100 {
		t.Errorf("Expected bus near start, got %f m away", d)
	}
}

func TestBuildFleet(t *testing.T) {
	fleet := buildFleet(2)
	if len(fleet) != 2*len(routes) {
		t.Fatalf("Expected %d buses, got %d", 2*len(routes), len(fleet))
	}
	seen := map[string]bool{}
	for _, b := range fleet {
		if seen[b.VehicleID] {
			t.Errorf("Duplicate vehicle id %s", b.VehicleID)
		}
		seen[b.VehicleID] = true
		if b.SpeedKmh < 20 || b.SpeedKmh > 40 {
			t.Errorf("Speed out of range: %f", b.SpeedKmh)
		}
	}
}

func TestHTTPPublisher_Success(t *testing.T) {
	var got reportPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/positions" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	pub := newHTTPPublisher(server.URL + "/api/")
	report := reportPayload{RouteID: "T1", VehicleID: "T1-01", Lat: 4.6, Lng: -74.1}
	if err := pub.Publish(context.Background(), report); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != report {
		t.Errorf("Expected %+v, got %+v", report, got)
	}
}

func TestHTTPPublisher_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := newHTTPPublisher(server.URL).Publish(context.Background(), reportPayload{})
	if err == nil {
		t.Fatal("Expected error for rejected report")
	}
}

func TestHTTPPublisher_NetworkError(t *testing.T) {
	err := newHTTPPublisher("http://127.0.0.1:1").Publish(context.Background(), reportPayload{})
	if err == nil {
		t.Fatal("Expected network error")
	}
}

func TestMQTTTopic(t *testing.T) {
	if got := mqttTopic("transit/positions/", "B12", "B12-01"); got != "transit/positions/B12/B12-01" {
		t.Errorf("Unexpected topic %s", got)
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []reportPayload
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, report reportPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

func TestSimulateBus_StopsOnCancel(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("unreachable")}
	b := newBus("T1-01", &testRoute)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		simulateBus(ctx, pub, b, 20*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("simulateBus did not stop")
	}
	if pub.count() == 0 {
		t.Error("Expected at least one publish attempt")
	}
	for _, r := range pub.reports {
		if r.RouteID != "T1" || r.VehicleID != "T1-01" {
			t.Errorf("Unexpected report %+v", r)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("BUSES_PER_ROUTE", "5")
	t.Setenv("API_BASE_URL", "http://tracker:8080/api")
	t.Setenv("SIM_TICK_SECONDS", "0")
	t.Setenv("SIM_MQTT_BROKER", "tcp://broker:1883")

	cfg := configFromEnv()
	if cfg.BusesPerRoute != 5 {
		t.Errorf("Expected 5 buses per route, got %d", cfg.BusesPerRoute)
	}
	if cfg.APIURL != "http://tracker:8080/api" {
		t.Errorf("Unexpected API url %s", cfg.APIURL)
	}
	if cfg.Interval != 2*time.Second {
		t.Errorf("Invalid tick should keep default, got %v", cfg.Interval)
	}
	if cfg.MQTTBroker != "tcp://broker:1883" || cfg.MQTTPrefix != "transit/positions" {
		t.Errorf("Unexpected MQTT settings %+v", cfg)
	}
}
