package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Analysis holds the pipeline parameters. It can be loaded from the YAML
// file named by ANALYSIS_CONFIG; environment variables override it.
type Analysis struct {
	SampleTrips           int     `yaml:"sample_trips" validate:"gte=0"`
	Seed                  uint64  `yaml:"seed"`
	Method                string  `yaml:"centrality_method" validate:"oneof=betweenness degree closeness eigenvector katz"`
	TopN                  int     `yaml:"top_n" validate:"gte=1"`
	BetweennessSample     int     `yaml:"betweenness_sample" validate:"gte=0"`
	BetweennessExactLimit int     `yaml:"betweenness_exact_limit" validate:"gte=1"`
	PathSampleThreshold   int     `yaml:"path_sample_threshold" validate:"gte=1"`
	PathSamples           int     `yaml:"path_samples" validate:"gte=1"`
	ClusteringTrials      int     `yaml:"clustering_trials" validate:"gte=0"`
	RedundancySamples     int     `yaml:"redundancy_samples" validate:"gte=1"`
	Parallel              bool    `yaml:"parallel"`
	MaxWorkers            int     `yaml:"max_workers" validate:"gte=1,lte=256"`
	Resolution            float64 `yaml:"resolution" validate:"gt=0"`
	WeightedCommunities   bool    `yaml:"weighted_communities"`
}

type Config struct {
	// Feed source: a GTFS directory, or Postgres.
	GTFSDir     string
	DatabaseURL string `validate:"required_without=GTFSDir"`
	City        string

	Analysis Analysis

	NATSURL           string
	NATSSubjectPrefix string `validate:"required"`
	LogNATSSubjects   bool
	MetricsAddr       string

	Environment string `validate:"oneof=development production"`
	LogLevel    string `validate:"oneof=debug info warn error"`
}

func defaultAnalysis() Analysis {
	return Analysis{
		Seed:                  42,
		Method:                "betweenness",
		TopN:                  20,
		BetweennessExactLimit: 1000,
		PathSampleThreshold:   1000,
		PathSamples:           100,
		ClusteringTrials:      1000,
		RedundancySamples:     100,
		Parallel:              true,
		MaxWorkers:            4,
		Resolution:            1.0,
	}
}

var validate = validator.New()

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{Analysis: defaultAnalysis()}

	cfg.GTFSDir = os.Getenv("GTFS_DIR")
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	if cfg.GTFSDir == "" {
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	if path := os.Getenv("ANALYSIS_CONFIG"); path != "" {
		if err := loadAnalysisFile(path, &cfg.Analysis); err != nil {
			return nil, err
		}
	}
	if err := analysisFromEnv(&cfg.Analysis); err != nil {
		return nil, err
	}

	// Empty NATS_URL disables publishing.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "transit.analysis")
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_NATS_SUBJECTS: %q", v)
		}
		cfg.LogNATSSubjects = b
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.Environment = strings.ToLower(getenvDefault("ENVIRONMENT", "development"))
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")) != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("GTFS_DIR, PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func loadAnalysisFile(path string, a *Analysis) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ANALYSIS_CONFIG: %w", err)
	}
	var file struct {
		Analysis *Analysis `yaml:"analysis"`
	}
	file.Analysis = a
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse ANALYSIS_CONFIG %s: %w", path, err)
	}
	return nil
}

func analysisFromEnv(a *Analysis) error {
	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"SAMPLE_TRIPS", &a.SampleTrips, 0},
		{"TOP_N", &a.TopN, 1},
		{"BETWEENNESS_SAMPLE", &a.BetweennessSample, 0},
		{"BETWEENNESS_EXACT_LIMIT", &a.BetweennessExactLimit, 1},
		{"PATH_SAMPLE_THRESHOLD", &a.PathSampleThreshold, 1},
		{"PATH_SAMPLES", &a.PathSamples, 1},
		{"CLUSTERING_TRIALS", &a.ClusteringTrials, 0},
		{"REDUNDANCY_SAMPLES", &a.RedundancySamples, 1},
		{"MAX_WORKERS", &a.MaxWorkers, 1},
	}
	for _, iv := range ints {
		v := os.Getenv(iv.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < iv.min {
			return fmt.Errorf("invalid %s: %q", iv.key, v)
		}
		*iv.dst = n
	}

	if v := os.Getenv("RANDOM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RANDOM_SEED: %q", v)
		}
		a.Seed = seed
	}
	if v := os.Getenv("CENTRALITY_METHOD"); v != "" {
		a.Method = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PARALLEL"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PARALLEL: %q", v)
		}
		a.Parallel = b
	}
	if v := os.Getenv("COMMUNITY_RESOLUTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("invalid COMMUNITY_RESOLUTION: %q", v)
		}
		a.Resolution = f
	}
	if v := os.Getenv("WEIGHTED_COMMUNITIES"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid WEIGHTED_COMMUNITIES: %q", v)
		}
		a.WeightedCommunities = b
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
