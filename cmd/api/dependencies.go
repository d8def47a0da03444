package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FACorreiaa/loci-heritage-api/internal/cache"
	"github.com/FACorreiaa/loci-heritage-api/internal/domain/enrichment"
	"github.com/FACorreiaa/loci-heritage-api/internal/domain/exploration"
	"github.com/FACorreiaa/loci-heritage-api/internal/domain/location"
	"github.com/FACorreiaa/loci-heritage-api/internal/sources"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/db"
)

const imageProxyTimeout = 8 * time.Second

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	redis *redis.Client
	Cache cache.Store

	// Connectors
	Places       *sources.PlacesClient
	Overpass     *sources.OverpassClient
	Geocoder     *sources.Geocoder
	Encyclopedia *sources.EncyclopediaClient
	Commons      *sources.CommonsClient
	Street       *sources.StreetImageryClient
	ImageProxy   *sources.ImageProxy

	// Repositories
	LocationRepo *location.RepositoryImpl

	// Services
	Explorer        *exploration.Explorer
	Waterfall       *enrichment.Waterfall
	Enricher        *enrichment.Worker
	LocationService *location.ServiceImpl

	// Handlers
	LocationHandler *location.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initCache(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}

	deps.initConnectors()
	deps.initRepositories()
	deps.initServices()
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        d.Config.Database.MaxConns,
		MinConns:        d.Config.Database.MinConns,
		MaxConnLifetime: d.Config.Database.MaxConnLifetime,
		MaxConnIdleTime: d.Config.Database.MaxConnIdleTime,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initCache picks Redis when an address is configured, process memory otherwise.
func (d *Dependencies) initCache(ctx context.Context) error {
	cc := d.Config.Cache
	if cc.RedisAddr == "" {
		d.Cache = cache.NewMemoryStore(cc.GeocodeTTL, 10*time.Minute)
		d.Logger.Info("using in-memory cache")
		return nil
	}

	client, err := cache.NewRedisClient(ctx, cc.RedisAddr, cc.RedisPassword, cc.RedisDB)
	if err != nil {
		return err
	}
	d.redis = client
	d.Cache = cache.NewRedisStore(client, "heritage:")
	d.Logger.Info("using redis cache", slog.String("addr", cc.RedisAddr))
	return nil
}

func (d *Dependencies) initConnectors() {
	sc := d.Config.Sources
	opts := sources.Options{
		UserAgent: sc.UserAgent,
		Breaker:   sc.Breaker,
		Logger:    d.Logger,
	}

	d.Places = sources.NewPlacesClient(sc.Places, opts)
	d.Overpass = sources.NewOverpassClient(sc.Overpass, opts)
	d.Geocoder = sources.NewGeocoder(sc.Geocoder, d.Cache, d.Config.Cache.GeocodeTTL, opts)
	d.Encyclopedia = sources.NewEncyclopediaClient(sc.Encyclopedia, opts)
	d.Commons = sources.NewCommonsClient(sc.Encyclopedia, opts)
	d.Street = sources.NewStreetImageryClient(sc.StreetImagery, opts)
	d.ImageProxy = sources.NewImageProxy(imageProxyTimeout, sources.DefaultProxyHosts, sc.Places.APIKey, opts)

	if !d.Places.Enabled() {
		d.Logger.Warn("places key missing; external search and places merge disabled")
	}
	d.Logger.Info("connectors initialized", slog.Int("overpass_mirrors", len(sc.Overpass.Mirrors)))
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.LocationRepo = location.NewRepository(d.DB.Pool, d.Logger)
	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() {
	d.Explorer = exploration.NewExplorer(d.Config.Exploration, d.Geocoder, d.Overpass, d.LocationRepo, d.Logger)
	d.Waterfall = enrichment.NewWaterfall(d.Encyclopedia, d.Commons, d.Street, d.LocationRepo, d.Logger)
	d.Enricher = enrichment.NewWorker(d.Config.Enrichment, d.Waterfall, d.LocationRepo, d.Logger)

	opts := []location.Option{
		location.WithExplorer(d.Explorer),
		location.WithPlaces(d.Places),
		location.WithArticles(d.Encyclopedia),
		location.WithImageFetcher(d.ImageProxy),
	}
	if d.Config.Enrichment.Enabled {
		opts = append(opts, location.WithEnricher(d.Enricher))
	}

	d.LocationService = location.NewService(d.LocationRepo, location.ServiceConfig{
		RadiusMeters:       d.Config.Search.RadiusMeters,
		DescriptionPreview: d.Config.Search.DescriptionPreview,
		AutoApprove:        d.Config.Exploration.AutoApprove,
		PlacesMerge:        d.Config.Sources.Places.MergeEnabled,
	}, d.Logger, opts...)

	d.Logger.Info("services initialized", slog.Bool("enrichment", d.Config.Enrichment.Enabled))
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.LocationHandler = location.NewHandler(d.LocationService, d.Logger)
	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.Logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
