package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/accident-data-etl/internal/cluster"
	"github.com/couchcryptid/accident-data-etl/internal/domain"
	"github.com/couchcryptid/accident-data-etl/internal/geo"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	ArchivePath   string
	ExtractDir    string
	SnapshotPath  string
	SnapshotReuse bool
	MemoryReport  bool

	CRS            geo.CRS
	SummaryRegions []domain.Region
	ClusterRegion  domain.Region
	ClusterCount   int
	ClusterLinkage cluster.Linkage
	RoadClasses    []string
	InfluenceYears []int
	FatalCauseMin  int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	MetricsFile     string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// ResultsDB is the SQLite file results are written to. Empty disables it.
	ResultsDB string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	clusterCount, err := parsePositiveInt("CLUSTER_COUNT", 20)
	if err != nil {
		return nil, err
	}
	fatalCauseMin, err := parseNonNegativeInt("FATAL_CAUSE_MIN", 150)
	if err != nil {
		return nil, err
	}
	crs, err := geo.ParseCRS(envOrDefault("CRS", string(geo.EPSG5514)))
	if err != nil {
		return nil, fmt.Errorf("invalid CRS: %w", err)
	}
	linkage, err := cluster.ParseLinkage(envOrDefault("CLUSTER_LINKAGE", string(cluster.Ward)))
	if err != nil {
		return nil, fmt.Errorf("invalid CLUSTER_LINKAGE: %w", err)
	}
	clusterRegion, err := domain.ParseRegion(strings.ToUpper(envOrDefault("CLUSTER_REGION", "JHC")))
	if err != nil {
		return nil, fmt.Errorf("invalid CLUSTER_REGION: %w", err)
	}
	summaryRegions, err := parseRegions(envOrDefault("SUMMARY_REGIONS", "JHM,OLK,PAK,KVK"))
	if err != nil {
		return nil, err
	}
	influenceYears, err := parseYears(envOrDefault("INFLUENCE_YEARS", "2018,2019,2020,2021"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ArchivePath:   envOrDefault("ARCHIVE_PATH", "data/data.zip"),
		ExtractDir:    os.Getenv("EXTRACT_DIR"),
		SnapshotPath:  envOrDefault("SNAPSHOT_PATH", "accidents.snapshot.zst"),
		SnapshotReuse: parseBool("SNAPSHOT_REUSE", false),
		MemoryReport:  parseBool("MEMORY_REPORT", false),

		CRS:            crs,
		SummaryRegions: summaryRegions,
		ClusterRegion:  clusterRegion,
		ClusterCount:   clusterCount,
		ClusterLinkage: linkage,
		RoadClasses:    parseList(envOrDefault("CLUSTER_ROAD_CLASSES", "1,2,3")),
		InfluenceYears: influenceYears,
		FatalCauseMin:  fatalCauseMin,

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		MetricsFile:     os.Getenv("METRICS_FILE"),

		KafkaEnabled: parseBool("KAFKA_ENABLED", false),
		KafkaBrokers: parseList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "accident-analysis"),

		ResultsDB: os.Getenv("RESULTS_DB"),
	}

	if len(cfg.RoadClasses) == 0 {
		return nil, errors.New("CLUSTER_ROAD_CLASSES must name at least one road class")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

// Serve reports whether the process keeps running after the batch to serve HTTP.
func (c *Config) Serve() bool { return c.HTTPAddr != "" }

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", key)
	}
	return n, nil
}

// parseRegions accepts "all" for every known region.
func parseRegions(s string) ([]domain.Region, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return nil, nil
	}
	var out []domain.Region
	for _, p := range parseList(s) {
		r, err := domain.ParseRegion(strings.ToUpper(p))
		if err != nil {
			return nil, fmt.Errorf("invalid SUMMARY_REGIONS: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseYears(s string) ([]int, error) {
	var out []int
	for _, p := range parseList(s) {
		y, err := strconv.Atoi(p)
		if err != nil || y < 1900 {
			return nil, fmt.Errorf("invalid INFLUENCE_YEARS: %q", p)
		}
		out = append(out, y)
	}
	return out, nil
}
