package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/flightsim/internal/influx"
	"github.com/shaunagostinho/flightsim/internal/logger"
	"github.com/shaunagostinho/flightsim/internal/sim"
	"github.com/shaunagostinho/flightsim/internal/sink"
)

// Config holds all simulator configuration.
type Config struct {
	mu sync.RWMutex

	// Simulated aircraft
	Fleet FleetConfig `yaml:"fleet" json:"fleet"`
	Sim   SimConfig   `yaml:"sim" json:"sim"`

	// Outputs
	MQTT   sink.MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Serial sink.SerialConfig `yaml:"serial" json:"serial"`
	UDP    sink.UDPConfig    `yaml:"udp" json:"udp"`
	Stdout StdoutConfig      `yaml:"stdout" json:"stdout"`
	Server ServerConfig      `yaml:"server" json:"server"`

	// Recording
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Track   logger.Config `yaml:"track" json:"track"`
	Influx  influx.Config `yaml:"influx" json:"influx"`

	path string // file path for save/load
}

// FleetConfig describes the aircraft. When Aircraft is empty, Size aircraft
// are spread evenly around one shared orbit.
type FleetConfig struct {
	Size         int                  `yaml:"size" json:"size"`
	IDPrefix     string               `yaml:"id_prefix" json:"idPrefix"`
	RadiusM      float64              `yaml:"radius_m" json:"radiusM"`
	AltitudeM    float64              `yaml:"altitude_m" json:"altitudeM"`
	SpeedMPS     float64              `yaml:"speed_mps" json:"speedMps"`
	CenterPreset string               `yaml:"center_preset" json:"centerPreset"` // see Presets
	CenterLat    float64              `yaml:"center_lat" json:"centerLat"`
	CenterLon    float64              `yaml:"center_lon" json:"centerLon"`
	Aircraft     []sim.AircraftConfig `yaml:"aircraft" json:"aircraft"`
}

type SimConfig struct {
	TickMs int `yaml:"tick_ms" json:"tickMs"` // Wall-clock delay between ticks
}

type StdoutConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

// Center is an orbit center in decimal degrees.
type Center struct {
	Lat float64
	Lon float64
}

// Presets are the named orbit centers the simulator ships with.
var Presets = map[string]Center{
	"manhattan": {Lat: 40.7831, Lon: -73.9712},
	"paris":     {Lat: 48.85822780194177, Lon: 2.2943067050001695},
	"sao_paulo": {Lat: -23.544613569973116, Lon: -46.66660718174367},
	"sydney":    {Lat: -33.85776741122166, Lon: 151.21549760187668},
	"shanghai":  {Lat: 31.240735926475473, Lon: 121.5004677369338},
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			Size:      1,
			IDPrefix:  "cessna",
			RadiusM:   10000,
			AltitudeM: 12000 * 0.3048, // 12000 ft
			SpeedMPS:  72,             // ~140 kt
			CenterLat: Presets["manhattan"].Lat,
			CenterLon: Presets["manhattan"].Lon,
		},
		Sim: SimConfig{TickMs: 1000},
		MQTT: sink.MQTTConfig{
			Enabled:  true,
			Broker:   "tcp://localhost:1883",
			Username: "admin",
			Password: "admin",
			ClientID: "plane-simulator-client",
			Topic:    "producers/cessna/data",
			QoS:      1,
		},
		Serial: sink.SerialConfig{
			Enabled:  false,
			PortPath: "/dev/ttyUSB0",
			BaudRate: 4800,
		},
		UDP: sink.UDPConfig{
			Enabled: false,
			Dest:    "127.0.0.1:10110",
		},
		Stdout: StdoutConfig{Enabled: false},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{Level: "info"},
		Track: logger.Config{
			Enabled:    false,
			Path:       "/var/log/flightsim",
			IntervalMs: 1000,
		},
		Influx: influx.Config{
			Enabled:     false,
			URL:         "http://localhost:8086",
			Org:         "flightsim",
			Bucket:      "tracks",
			BackupPath:  "/var/log/flightsim/influx_backup.lp.gz",
			Measurement: "aircraft_position",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log zerolog.Logger) *Config {
	log = log.With().Str("component", "config").Logger()
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no config file, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("error parsing config, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("path", path).Msg("loaded config")
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		if loadEnvFile(ep) {
			log.Info().Str("path", ep).Msg("loaded .env")
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the real environment take precedence.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
	return true
}

func envBool(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// applyEnvOverrides reads environment variables and overrides config values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FLEET_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fleet.Size = n
			c.Fleet.Aircraft = nil
		}
	}
	if v := os.Getenv("CENTER_PRESET"); v != "" {
		c.Fleet.CenterPreset = v
	}
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = envBool(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
		c.Serial.Enabled = true
	}
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("UDP_DEST"); v != "" {
		c.UDP.Dest = v
		c.UDP.Enabled = true
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
		c.Server.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRACK_ENABLED"); v != "" {
		c.Track.Enabled = envBool(v)
	}
	if v := os.Getenv("TRACK_PATH"); v != "" {
		c.Track.Path = v
	}
	if v := os.Getenv("INFLUX_ENABLED"); v != "" {
		c.Influx.Enabled = envBool(v)
	}
	if v := os.Getenv("INFLUX_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
}

// Aircraft resolves the fleet section into per-aircraft configs. Explicit
// entries inherit any orbit parameter they leave at zero from the fleet.
func (c *Config) Aircraft() ([]sim.AircraftConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f := c.Fleet
	if f.CenterPreset != "" {
		p, ok := Presets[strings.ToLower(f.CenterPreset)]
		if !ok {
			return nil, fmt.Errorf("config: unknown center preset %q (have %s)", f.CenterPreset, presetNames())
		}
		f.CenterLat, f.CenterLon = p.Lat, p.Lon
	}
	base := sim.AircraftConfig{
		RadiusM:   f.RadiusM,
		AltitudeM: f.AltitudeM,
		SpeedMPS:  f.SpeedMPS,
		CenterLat: f.CenterLat,
		CenterLon: f.CenterLon,
	}

	if len(f.Aircraft) == 0 {
		prefix := f.IDPrefix
		if prefix == "" {
			prefix = "aircraft"
		}
		return sim.EvenlySpaced(base, f.Size, prefix), nil
	}

	out := make([]sim.AircraftConfig, len(f.Aircraft))
	for i, a := range f.Aircraft {
		if a.RadiusM == 0 {
			a.RadiusM = base.RadiusM
		}
		if a.AltitudeM == 0 {
			a.AltitudeM = base.AltitudeM
		}
		if a.SpeedMPS == 0 {
			a.SpeedMPS = base.SpeedMPS
		}
		if a.CenterLat == 0 && a.CenterLon == 0 {
			a.CenterLat, a.CenterLon = base.CenterLat, base.CenterLon
		}
		out[i] = a
	}
	return out, nil
}

func presetNames() string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Path returns the YAML file this config was loaded from.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "/etc/flightsim/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// TrackEnabled reports whether track recording is switched on.
func (c *Config) TrackEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Track.Enabled
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
