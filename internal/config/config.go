package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// defaultMembers is the GEFS layout: 30 perturbed members plus the control.
const defaultMembers = "p01,p02,p03,p04,p05,p06,p07,p08,p09,p10," +
	"p11,p12,p13,p14,p15,p16,p17,p18,p19,p20," +
	"p21,p22,p23,p24,p25,p26,p27,p28,p29,p30,c00"

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

	// Ensemble layout.
	GridNY        int
	GridNX        int
	Members       []string
	StepHours     int
	ForecastHours int

	// Post-processing.
	LPMMRadius     int
	LPMMWorkers    int
	RunCacheSize   int
	ProductCatalog string // path to a YAML catalog; empty uses the embedded one
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

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "ensemble-member-fields"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "ensemble-products"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "ensemble-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Members:            parseList(sharedcfg.EnvOrDefault("ENSEMBLE_MEMBERS", defaultMembers)),
		ProductCatalog:     os.Getenv("PRODUCT_CATALOG"),
	}

	ints := []struct {
		name string
		def  int
		dst  *int
	}{
		{"GRID_NY", 161, &cfg.GridNY},
		{"GRID_NX", 241, &cfg.GridNX},
		{"STEP_HOURS", 3, &cfg.StepHours},
		{"FORECAST_HOURS", 120, &cfg.ForecastHours},
		{"LPMM_RADIUS", 5, &cfg.LPMMRadius},
		{"LPMM_WORKERS", runtime.NumCPU(), &cfg.LPMMWorkers},
		{"RUN_CACHE_SIZE", 4, &cfg.RunCacheSize},
	}
	for _, v := range ints {
		n, err := parsePositiveInt(v.name, v.def)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaSourceTopic == "" {
		return errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required")
	}
	if len(c.Members) == 0 {
		return errors.New("ENSEMBLE_MEMBERS is required")
	}
	seen := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		if seen[m] {
			return fmt.Errorf("ENSEMBLE_MEMBERS lists %q twice", m)
		}
		seen[m] = true
	}
	if c.ForecastHours%c.StepHours != 0 {
		return fmt.Errorf("FORECAST_HOURS %d is not a multiple of STEP_HOURS %d", c.ForecastHours, c.StepHours)
	}
	if w := 2*c.LPMMRadius + 1; w > min(c.GridNY, c.GridNX) {
		return fmt.Errorf("LPMM_RADIUS %d gives a %d-cell window larger than the %dx%d grid",
			c.LPMMRadius, w, c.GridNY, c.GridNX)
	}
	return nil
}

// Steps is the number of forecast steps per run including the analysis.
func (c *Config) Steps() int { return c.ForecastHours/c.StepHours + 1 }

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, s)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
