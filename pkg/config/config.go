package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Mode          string              `koanf:"mode"`
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Observability ObservabilityConfig `koanf:"observability"`
	Cache         CacheConfig         `koanf:"cache"`
	Sources       SourcesConfig       `koanf:"sources"`
	Search        SearchConfig        `koanf:"search"`
	Exploration   ExplorationConfig   `koanf:"exploration"`
	Enrichment    EnrichmentConfig    `koanf:"enrichment"`
}

type ServerConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	RateLimitPerSecond int           `koanf:"rate_limit_per_second"`
	RateLimitBurst     int           `koanf:"rate_limit_burst"`
	CORSOrigins        []string      `koanf:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Name            string        `koanf:"name"`
	SSLMode         string        `koanf:"sslmode"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
}

// DSN returns URL when set, otherwise a postgres URL built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type ObservabilityConfig struct {
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	ServiceName    string `koanf:"service_name"`
}

type CacheConfig struct {
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	GeocodeTTL    time.Duration `koanf:"geocode_ttl"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

type PlacesConfig struct {
	APIKey       string        `koanf:"api_key"`
	BaseURL      string        `koanf:"base_url"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxResults   int           `koanf:"max_results"`
	BiasRadius   float64       `koanf:"bias_radius"`
	PhotoMaxPx   int           `koanf:"photo_max_px"`
	RatePerSec   float64       `koanf:"rate_per_second"`
	MergeEnabled bool          `koanf:"merge_enabled"`
}

func (p PlacesConfig) Enabled() bool {
	return p.APIKey != ""
}

type OverpassConfig struct {
	Mirrors      []string      `koanf:"mirrors"`
	Timeout      time.Duration `koanf:"timeout"`
	QueryTimeout int           `koanf:"query_timeout"`
}

type GeocoderConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	RatePerSec float64       `koanf:"rate_per_second"`
}

type EncyclopediaConfig struct {
	BaseURL        string        `koanf:"base_url"`
	CommonsURL     string        `koanf:"commons_url"`
	Timeout        time.Duration `koanf:"timeout"`
	GeoRadius      int           `koanf:"geo_radius"`
	ThumbSize      int           `koanf:"thumb_size"`
	SummaryLength  int           `koanf:"summary_length"`
	GalleryResults int           `koanf:"gallery_results"`
	GalleryWidth   int           `koanf:"gallery_width"`
}

type StreetImageryConfig struct {
	AccessToken string        `koanf:"access_token"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	Radius      int           `koanf:"radius"`
}

type SourcesConfig struct {
	UserAgent     string              `koanf:"user_agent"`
	Breaker       BreakerConfig       `koanf:"breaker"`
	Places        PlacesConfig        `koanf:"places"`
	Overpass      OverpassConfig      `koanf:"overpass"`
	Geocoder      GeocoderConfig      `koanf:"geocoder"`
	Encyclopedia  EncyclopediaConfig  `koanf:"encyclopedia"`
	StreetImagery StreetImageryConfig `koanf:"street_imagery"`
}

type SearchConfig struct {
	DefaultLimit       int     `koanf:"default_limit"`
	MaxLimit           int     `koanf:"max_limit"`
	RadiusMeters       float64 `koanf:"radius_meters"`
	DescriptionPreview int     `koanf:"description_preview"`
}

type ExplorationConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Timeout        time.Duration `koanf:"timeout"`
	MinTermLength  int           `koanf:"min_term_length"`
	MinResults     int           `koanf:"min_results"`
	NearbyRadius   float64       `koanf:"nearby_radius"`
	MinNearby      int           `koanf:"min_nearby"`
	DenseZoom      int           `koanf:"dense_zoom"`
	SparseZoom     int           `koanf:"sparse_zoom"`
	MaxSpanDegrees float64       `koanf:"max_span_degrees"`
	AutoApprove    bool          `koanf:"auto_approve"`
	DenseCities    []string      `koanf:"dense_cities"`
	AreaTypes      []string      `koanf:"area_types"`
}

type EnrichmentConfig struct {
	Enabled       bool          `koanf:"enabled"`
	BatchSize     int           `koanf:"batch_size"`
	BatchDelay    time.Duration `koanf:"batch_delay"`
	QueueSize     int           `koanf:"queue_size"`
	RetryCooldown time.Duration `koanf:"retry_cooldown"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepLimit    int           `koanf:"sweep_limit"`
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
		errs = append(errs, errors.New("database.url or database.host and database.name are required"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns))
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("observability.log_format must be json or text, got %q", c.Observability.LogFormat))
	}
	if len(c.Sources.Overpass.Mirrors) == 0 {
		errs = append(errs, errors.New("sources.overpass.mirrors must list at least one endpoint"))
	}
	if c.Sources.UserAgent == "" {
		errs = append(errs, errors.New("sources.user_agent is required"))
	}
	if c.Sources.Breaker.FailureRatio <= 0 || c.Sources.Breaker.FailureRatio > 1 {
		errs = append(errs, fmt.Errorf("sources.breaker.failure_ratio must be in (0,1], got %v", c.Sources.Breaker.FailureRatio))
	}
	if c.Search.RadiusMeters <= 0 {
		errs = append(errs, errors.New("search.radius_meters must be positive"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit must be in [1,%d]", c.Search.MaxLimit))
	}
	if c.Exploration.Enabled && c.Exploration.Timeout <= 0 {
		errs = append(errs, errors.New("exploration.timeout must be positive"))
	}
	if c.Enrichment.Enabled {
		if c.Enrichment.BatchSize <= 0 {
			errs = append(errs, errors.New("enrichment.batch_size must be positive"))
		}
		if c.Enrichment.QueueSize <= 0 {
			errs = append(errs, errors.New("enrichment.queue_size must be positive"))
		}
	}

	return errors.Join(errs...)
}
