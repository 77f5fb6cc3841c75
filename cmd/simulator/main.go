package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/geo"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/telemetry"
)

// Holy sites the shuttle routes run between
var sites = []models.Location{
	{Lat: 21.4225, Lon: 39.8262}, // Masjid al-Haram
	{Lat: 21.4133, Lon: 39.8933}, // Mina
	{Lat: 21.4206, Lon: 39.8728}, // Jamarat
	{Lat: 21.3833, Lon: 39.9367}, // Muzdalifah
	{Lat: 21.3549, Lon: 39.9841}, // Arafat
	{Lat: 21.4089, Lon: 39.8581}, // Aziziyah
}

var errPublishTimeout = errors.New("publish timed out")

func jitterLocation(base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func randomLocation() models.Location {
	base := sites[rand.Intn(len(sites))]
	return jitterLocation(base, 300)
}

// --- Routing & movement ---

type BusRoute struct {
	Points    []models.Location
	SegIndex  int
	SegOffset float64 // km along current segment
}

type BusState struct {
	BusID       string
	Position    models.Location
	SpeedKmh    float64
	Heading     float64
	Temperature float64
	Route       *BusRoute
}

// routeFetcher returns road geometry between two points.
type routeFetcher func(start, end models.Location) ([]models.Location, error)

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// bearing is the initial compass bearing from a to b in degrees [0, 360).
func bearing(a, b models.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func osrmFetcher(baseURL string) routeFetcher {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(start, end models.Location) ([]models.Location, error) {
		url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
			baseURL, start.Lon, start.Lat, end.Lon, end.Lat)
		resp, err := client.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return parseOSRMRoute(body)
	}
}

func parseOSRMRoute(body []byte) ([]models.Location, error) {
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]models.Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.Location{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}

func planNewRoute(s *BusState, fetch routeFetcher) {
	start := s.Position
	end := jitterLocation(sites[rand.Intn(len(sites))], 200)
	for i := 0; i < 10 && geo.HaversineKM(start, end) < 1; i++ {
		end = jitterLocation(sites[rand.Intn(len(sites))], 200)
	}
	if fetch != nil {
		if pts, err := fetch(start, end); err == nil {
			s.Route = &BusRoute{Points: pts}
			return
		}
	}
	// straight line when no road geometry is available
	s.Route = &BusRoute{Points: []models.Location{start, end}}
}

func stepAlongRoute(s *BusState, tickSec float64, fetch routeFetcher) {
	if s.Route == nil || len(s.Route.Points) < 2 {
		planNewRoute(s, fetch)
	}
	remKm := s.SpeedKmh * (tickSec / 3600.0)
	for remKm > 0 && s.Route.SegIndex < len(s.Route.Points)-1 {
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		segLen := geo.HaversineKM(a, b)
		if segLen > 0 {
			s.Heading = bearing(a, b)
		}
		leftOnSeg := segLen - s.Route.SegOffset
		if remKm >= leftOnSeg {
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (s.Route.SegOffset + remKm) / segLen
		s.Position = lerp(a, b, math.Max(0, math.Min(1, t)))
		s.Route.SegOffset += remKm
		remKm = 0
	}
	if s.Route.SegIndex >= len(s.Route.Points)-1 {
		planNewRoute(s, fetch)
	}
}

// --- Payloads ---

type fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type locationMessage struct {
	BusID     string  `json:"busId"`
	Location  fix     `json:"location"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Timestamp string  `json:"timestamp"`
}

type statusMessage struct {
	BusID     string `json:"busId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type sensorMessage struct {
	BusID     string  `json:"busId"`
	SensorID  string  `json:"sensorId"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
}

func locationFromState(s *BusState, now time.Time) locationMessage {
	return locationMessage{
		BusID:     s.BusID,
		Location:  fix{Latitude: s.Position.Lat, Longitude: s.Position.Lon},
		Speed:     s.SpeedKmh,
		Heading:   s.Heading,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// engine temperature bands in celsius
var temperatureBand = models.SensorThreshold{Max: ptr(100), CriticalMax: ptr(110)}

func ptr(v float64) *float64 { return &v }

func sensorFromState(s *BusState, now time.Time) sensorMessage {
	return sensorMessage{
		BusID:     s.BusID,
		SensorID:  s.BusID + "-temp",
		Type:      "temperature",
		Value:     math.Round(s.Temperature*10) / 10,
		Unit:      "celsius",
		Timestamp: now.UTC().Format(time.RFC3339),
		Status:    string(temperatureBand.Classify(s.Temperature)),
	}
}

// publisher is the part of mqtt.Client the simulator needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

func publishJSON(pub publisher, topic string, msg interface{}, timeout time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := pub.Publish(topic, 1, false, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: %w", topic, errPublishTimeout)
	}
	return token.Error()
}

type simulator struct {
	pub      publisher
	prefix   string
	interval time.Duration
	fetch    routeFetcher
}

// tick advances one bus and publishes its location and sensor readings.
func (sim *simulator) tick(s *BusState, now time.Time) error {
	s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
	s.SpeedKmh = math.Max(10, math.Min(60, s.SpeedKmh))
	s.Temperature += (rand.Float64()*2 - 1) * 0.8
	s.Temperature = math.Max(70, math.Min(115, s.Temperature))

	stepAlongRoute(s, sim.interval.Seconds(), sim.fetch)

	timeout := sim.interval
	if err := publishJSON(sim.pub, telemetry.Topic(sim.prefix, s.BusID, telemetry.KindLocation), locationFromState(s, now), timeout); err != nil {
		return err
	}
	return publishJSON(sim.pub, telemetry.Topic(sim.prefix, s.BusID, telemetry.KindSensors), sensorFromState(s, now), timeout)
}

func (sim *simulator) run(s *BusState, stop <-chan struct{}) {
	status := statusMessage{BusID: s.BusID, Status: string(models.BusAvailable), Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := publishJSON(sim.pub, telemetry.Topic(sim.prefix, s.BusID, telemetry.KindStatus), status, sim.interval); err != nil {
		log.WithError(err).WithField("bus_id", s.BusID).Warn("Failed to publish status")
	}

	tick := time.NewTicker(sim.interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-tick.C:
			if err := sim.tick(s, now); err != nil {
				log.WithError(err).WithField("bus_id", s.BusID).Error("Failed to publish telemetry")
				continue
			}
			log.WithFields(log.Fields{
				"bus_id": s.BusID,
				"lat":    s.Position.Lat,
				"lon":    s.Position.Lon,
			}).Debug("Sent telemetry")
		}
	}
}

func newFleet(size int) []*BusState {
	states := make([]*BusState, 0, size)
	for i := 0; i < size; i++ {
		states = append(states, &BusState{
			BusID:       fmt.Sprintf("bus-%03d", i+1),
			Position:    randomLocation(),
			SpeedKmh:    20 + rand.Float64()*20,
			Temperature: 80 + rand.Float64()*10,
		})
	}
	return states
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	fleetSize := envInt("FLEET_SIZE", 10)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	broker := envString("MQTT_BROKER", "tcp://localhost:1883")
	prefix := envString("MQTT_TOPIC_PREFIX", telemetry.DefaultPrefix)

	var fetch routeFetcher
	if url := os.Getenv("OSRM_URL"); url != "" {
		fetch = osrmFetcher(url)
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"broker":     broker,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	client, err := telemetry.Connect(broker, fmt.Sprintf("hajj-simulator-%d", os.Getpid()), nil, log.StandardLogger())
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer client.Disconnect(250)

	sim := &simulator{pub: client, prefix: prefix, interval: interval, fetch: fetch}
	stop := make(chan struct{})
	for _, s := range newFleet(fleetSize) {
		go sim.run(s, stop)
	}
	log.Info("Telemetry simulation started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(stop)
	log.Info("Simulation stopped")
}
