package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/loci-heritage/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultOverpassMirrors = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
	"https://overpass.openstreetmap.ru/api/interpreter",
}

var DefaultDenseCities = []string{
	"tokyo", "osaka", "seoul", "beijing", "shanghai", "hong kong", "bangkok", "delhi", "mumbai",
	"london", "londres", "paris", "rome", "roma", "berlin", "madrid", "barcelona", "amsterdam",
	"venice", "venecia", "prague", "vienna", "budapest", "istanbul", "moscow",
	"new york", "nueva york", "san francisco", "los angeles", "mexico city", "cdmx",
	"sao paulo", "buenos aires", "rio de janeiro", "bogota", "lima", "santiago",
	"cairo", "sydney",
}

var DefaultAreaTypes = []string{
	"city", "town", "village", "municipality", "county", "administrative", "state_district", "suburb",
}

func defaultConfig() *Config {
	return &Config{
		Mode: "development",
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:8081"},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Name:            "heritage",
			SSLMode:         "disable",
			MaxConns:        25,
			MinConns:        5,
			MaxConnLifetime: 5 * time.Minute,
			MaxConnIdleTime: 10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			ServiceName:    "loci-heritage-api",
		},
		Cache: CacheConfig{
			GeocodeTTL: 24 * time.Hour,
		},
		Sources: SourcesConfig{
			UserAgent: "LociHeritage/1.0 (+https://github.com/FACorreiaa/loci-heritage-api)",
			Breaker: BreakerConfig{
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      2 * time.Minute,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
			Places: PlacesConfig{
				BaseURL:      "https://places.googleapis.com/v1",
				Timeout:      8 * time.Second,
				MaxResults:   20,
				BiasRadius:   15000,
				PhotoMaxPx:   800,
				RatePerSec:   5,
				MergeEnabled: true,
			},
			Overpass: OverpassConfig{
				Mirrors:      DefaultOverpassMirrors,
				Timeout:      10 * time.Second,
				QueryTimeout: 25,
			},
			Geocoder: GeocoderConfig{
				BaseURL:    "https://nominatim.openstreetmap.org",
				Timeout:    5 * time.Second,
				RatePerSec: 1,
			},
			Encyclopedia: EncyclopediaConfig{
				BaseURL:        "https://en.wikipedia.org/w/api.php",
				CommonsURL:     "https://commons.wikimedia.org/w/api.php",
				Timeout:        4 * time.Second,
				GeoRadius:      100,
				ThumbSize:      600,
				SummaryLength:  400,
				GalleryResults: 3,
				GalleryWidth:   800,
			},
			StreetImagery: StreetImageryConfig{
				BaseURL: "https://graph.mapillary.com",
				Timeout: 2 * time.Second,
				Radius:  30,
			},
		},
		Search: SearchConfig{
			DefaultLimit:       50,
			MaxLimit:           100,
			RadiusMeters:       80000,
			DescriptionPreview: 180,
		},
		Exploration: ExplorationConfig{
			Enabled:        true,
			Timeout:        10 * time.Second,
			MinTermLength:  4,
			MinResults:     5,
			NearbyRadius:   1000,
			MinNearby:      3,
			DenseZoom:      15,
			SparseZoom:     14,
			MaxSpanDegrees: 0.25,
			AutoApprove:    true,
			DenseCities:    DefaultDenseCities,
			AreaTypes:      DefaultAreaTypes,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			BatchSize:     2,
			BatchDelay:    500 * time.Millisecond,
			QueueSize:     1024,
			RetryCooldown: 30 * time.Minute,
			SweepInterval: 15 * time.Minute,
			SweepLimit:    100,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
	"sources.overpass.mirrors",
	"exploration.dense_cities",
	"exploration.area_types",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings keeps the flat variable names operators already use.
var envMappings = map[string]string{
	"mode":                      "mode",
	"server_host":               "server.host",
	"server_port":               "server.port",
	"port":                      "server.port",
	"rate_limit_per_second":     "server.rate_limit_per_second",
	"rate_limit_burst":          "server.rate_limit_burst",
	"cors_origins":              "server.cors_origins",
	"database_url":              "database.url",
	"db_host":                   "database.host",
	"db_port":                   "database.port",
	"db_user":                   "database.user",
	"db_password":               "database.password",
	"db_name":                   "database.name",
	"db_sslmode":                "database.sslmode",
	"db_max_conns":              "database.max_conns",
	"log_level":                 "observability.log_level",
	"log_format":                "observability.log_format",
	"metrics_enabled":           "observability.metrics_enabled",
	"redis_addr":                "cache.redis_addr",
	"redis_password":            "cache.redis_password",
	"redis_db":                  "cache.redis_db",
	"user_agent":                "sources.user_agent",
	"google_api_key":            "sources.places.api_key",
	"places_merge_enabled":      "sources.places.merge_enabled",
	"overpass_mirrors":          "sources.overpass.mirrors",
	"overpass_timeout":          "sources.overpass.timeout",
	"nominatim_url":             "sources.geocoder.base_url",
	"wikipedia_url":             "sources.encyclopedia.base_url",
	"commons_url":               "sources.encyclopedia.commons_url",
	"mapillary_token":           "sources.street_imagery.access_token",
	"search_radius_meters":      "search.radius_meters",
	"exploration_enabled":       "exploration.enabled",
	"exploration_timeout":       "exploration.timeout",
	"exploration_auto_approve":  "exploration.auto_approve",
	"dense_cities":              "exploration.dense_cities",
	"enrichment_enabled":        "enrichment.enabled",
	"enrichment_batch_size":     "enrichment.batch_size",
	"enrichment_batch_delay":    "enrichment.batch_delay",
	"enrichment_sweep_interval": "enrichment.sweep_interval",
}

// envTransformFunc maps known variables to config paths and drops the rest,
// so unrelated process environment never leaks into the tree.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
