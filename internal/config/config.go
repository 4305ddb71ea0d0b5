package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Sensor sources.
const (
	SourceKafka = "kafka"
	SourceMQTT  = "mqtt"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// SensorSource selects where readings come from: Kafka or an MQTT broker.
	SensorSource    string
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	// Optional stores. Empty DSNs disable them.
	PostgresDSN   string
	ClickHouseDSN string

	StateSaveDelay   time.Duration
	BackfillLookback time.Duration
	BackfillLimit    int
	Location         *time.Location

	Tanks []Tank
}

// Tank holds the settings of one monitored tank.
type Tank struct {
	ID                       string
	DiameterCM               float64
	LengthCM                 float64
	RefillThreshold          float64
	NoiseThreshold           float64
	ReferenceTemperature     float64
	BufferSize               int
	Debounce                 time.Duration
	StabilizationPeriod      time.Duration
	StabilityThreshold       float64
	ConsumptionDays          int
	HistoryDays              int
	MinConsumption           float64
	TemperatureEnabled       bool
	ClearConsumptionOnRefill bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	saveDelay, err := parseDuration("STATE_SAVE_DELAY", "10s")
	if err != nil {
		return nil, err
	}

	lookback, err := parseDuration("BACKFILL_LOOKBACK", "1440h")
	if err != nil {
		return nil, err
	}

	backfillLimit, err := parseInt("BACKFILL_LIMIT", "1000", 1, 100000)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(sharedcfg.EnvOrDefault("TIMEZONE", "Local"))
	if err != nil {
		return nil, errors.New("invalid TIMEZONE")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "tank-sensor-readings"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "tank-snapshots"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "tank-monitor"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		SensorSource:    strings.ToLower(sharedcfg.EnvOrDefault("SENSOR_SOURCE", SourceKafka)),
		MQTTBroker:      sharedcfg.EnvOrDefault("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "tank-monitor"),
		MQTTTopicPrefix: strings.TrimSuffix(sharedcfg.EnvOrDefault("MQTT_TOPIC_PREFIX", "tanks"), "/"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),

		StateSaveDelay:   saveDelay,
		BackfillLookback: lookback,
		BackfillLimit:    backfillLimit,
		Location:         loc,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	switch cfg.SensorSource {
	case SourceKafka:
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case SourceMQTT:
		if cfg.MQTTTopicPrefix == "" {
			return nil, errors.New("MQTT_TOPIC_PREFIX is required")
		}
	default:
		return nil, fmt.Errorf("invalid SENSOR_SOURCE %q: must be kafka or mqtt", cfg.SensorSource)
	}

	ids := sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("TANK_IDS", "default"))
	if len(ids) == 0 {
		return nil, errors.New("TANK_IDS is required")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("invalid TANK_IDS: duplicate tank %q", id)
		}
		seen[id] = true
		tank, err := loadTank(id)
		if err != nil {
			return nil, err
		}
		cfg.Tanks = append(cfg.Tanks, tank)
	}

	return cfg, nil
}

// loadTank reads a tank's settings. Every key can be overridden for a single
// tank by prefixing it with TANK_<ID>_.
func loadTank(id string) (Tank, error) {
	env := tankEnv{prefix: "TANK_" + envID(id) + "_"}
	t := Tank{ID: id}

	t.DiameterCM = env.number("TANK_DIAMETER_CM", "150", 0, false)
	t.LengthCM = env.number("TANK_LENGTH_CM", "200", 0, false)
	t.RefillThreshold = env.number("REFILL_THRESHOLD_LITERS", "100", 0, false)
	t.NoiseThreshold = env.number("NOISE_THRESHOLD_LITERS", "2", 0, true)
	t.ReferenceTemperature = env.anyNumber("REFERENCE_TEMPERATURE_C", "15")
	t.BufferSize = env.integer("READING_BUFFER_SIZE", "5", 3, 20)
	t.Debounce = time.Duration(env.integer("READING_DEBOUNCE_SECONDS", "60", 0, 86400)) * time.Second
	t.StabilizationPeriod = time.Duration(env.integer("REFILL_STABILIZATION_MINUTES", "30", 1, 1440)) * time.Minute
	t.StabilityThreshold = env.number("REFILL_STABILITY_THRESHOLD_LITERS", "5", 0, true)
	t.ConsumptionDays = env.integer("CONSUMPTION_DAYS", "7", 1, 90)
	t.HistoryDays = env.integer("CONSUMPTION_HISTORY_DAYS", "365", 1, 3650)
	t.MinConsumption = env.number("MIN_CONSUMPTION_LITERS", "0.1", 0, true)
	t.TemperatureEnabled = env.flag("TEMPERATURE_ENABLED", "false")
	t.ClearConsumptionOnRefill = env.flag("CLEAR_CONSUMPTION_ON_REFILL", "false")

	if env.err != nil {
		return Tank{}, fmt.Errorf("tank %q: %w", id, env.err)
	}
	if t.NoiseThreshold >= t.RefillThreshold {
		return Tank{}, fmt.Errorf("tank %q: invalid NOISE_THRESHOLD_LITERS: must be below REFILL_THRESHOLD_LITERS", id)
	}
	if t.HistoryDays < t.ConsumptionDays {
		return Tank{}, fmt.Errorf("tank %q: invalid CONSUMPTION_HISTORY_DAYS: must cover CONSUMPTION_DAYS", id)
	}
	return t, nil
}

// tankEnv looks up tank keys with a per-tank override and records the first
// parse error.
type tankEnv struct {
	prefix string
	err    error
}

func (e *tankEnv) lookup(key, fallback string) string {
	if v := os.Getenv(e.prefix + key); v != "" {
		return v
	}
	return sharedcfg.EnvOrDefault(key, fallback)
}

func (e *tankEnv) fail(key string) {
	if e.err == nil {
		e.err = errors.New("invalid " + key)
	}
}

// number parses a finite value above lo, or equal to lo when inclusive.
func (e *tankEnv) number(key, fallback string, lo float64, inclusive bool) float64 {
	v := e.anyNumber(key, fallback)
	if v < lo || (!inclusive && v == lo) {
		e.fail(key)
		return 0
	}
	return v
}

func (e *tankEnv) anyNumber(key, fallback string) float64 {
	v, err := strconv.ParseFloat(e.lookup(key, fallback), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		e.fail(key)
		return 0
	}
	return v
}

func (e *tankEnv) integer(key, fallback string, lo, hi int) int {
	n, err := strconv.Atoi(e.lookup(key, fallback))
	if err != nil || n < lo || n > hi {
		e.fail(key)
		return 0
	}
	return n
}

func (e *tankEnv) flag(key, fallback string) bool {
	b, err := strconv.ParseBool(e.lookup(key, fallback))
	if err != nil {
		e.fail(key)
		return false
	}
	return b
}

// envID turns a tank id into an environment variable fragment.
func envID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key + ": must be a positive duration")
	}
	return d, nil
}

func parseInt(key, fallback string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}
