package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/loci-heritage-api/internal/domain/category"
	"github.com/FACorreiaa/loci-heritage-api/internal/sources"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

const (
	defaultSuggestionDescription = "No description available."
	placeholderImage             = "https://placehold.co/600x400?text=No+Image"
	imageProxyPath               = "/api/locations/image-proxy?url="
	minArticleSummary            = 50
	externalLookupConcurrency    = 4
)

// categoryQueries phrase a Places text search for each category.
var categoryQueries = map[types.Category]string{
	types.CategoryAll:          "Top tourist attractions, historical sites, museums, and castles",
	types.CategoryCastles:      "Castles, palaces, fortresses, and citadels",
	types.CategoryRuins:        "Ancient ruins, archaeological sites, and historic ruins",
	types.CategoryMuseums:      "Museums, art galleries, and exhibitions",
	types.CategoryStatues:      "Statues, sculptures, and monuments",
	types.CategoryPlaques:      "Historical plaques, commemorative markers, and blue plaques",
	types.CategoryBusts:        "Statues, busts, and sculptures of people",
	types.CategoryStolperstein: "Stolpersteine memorials and stumbling stones",
	types.CategoryHistoricSite: "Historical landmarks, heritage sites, and old buildings",
	types.CategoryReligious:    "Churches, cathedrals, basilicas, monasteries, mosques, and temples",
	types.CategoryTowers:       "Observation towers, clock towers, and bell towers",
	types.CategoryTourist:      "Tourist attractions, viewpoints, and points of interest",
	types.CategoryOthers:       "Hidden gems, landmarks, and interesting places",
}

// PlacesQuery renders the Places text query for a category and an optional area.
func PlacesQuery(c types.Category, area string) string {
	phrase, ok := categoryQueries[c]
	if !ok {
		phrase = categoryQueries[types.CategoryAll]
	}
	if area = strings.TrimSpace(area); area != "" {
		return phrase + " in " + area
	}
	return phrase
}

// Explorer runs a live area fetch when the store has too little for a query.
// It returns how many new records were written.
type Explorer interface {
	Explore(ctx context.Context, q types.SearchQuery, found []types.Location) int
}

// Enqueuer accepts records for background media backfill without blocking.
type Enqueuer interface {
	Enqueue(jobs ...types.EnrichmentJob) int
}

type PlaceSearcher interface {
	Enabled() bool
	SearchText(ctx context.Context, query string, bias *types.Anchor) []sources.Place
}

type ArticleSource interface {
	LookupByPosition(ctx context.Context, lat, lon float64, name string) *sources.Article
	FullExtract(ctx context.Context, title string) *types.WikiDetails
}

type ImageFetcher interface {
	Fetch(ctx context.Context, raw string) (*sources.Image, error)
}

type ServiceConfig struct {
	RadiusMeters       float64
	DescriptionPreview int
	AutoApprove        bool
	PlacesMerge        bool
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	ListLocations(ctx context.Context, q types.SearchQuery) (*types.LocationPage, error)
	SearchExternal(ctx context.Context, term string, c types.Category, anchor *types.Anchor) ([]types.Location, error)
	Suggest(ctx context.Context, req types.SuggestLocationRequest) (*types.Location, error)
	WikiDetails(ctx context.Context, title string) (*types.WikiDetails, error)
	Description(ctx context.Context, id int64) (string, error)
	ProxyImage(ctx context.Context, raw string) (*sources.Image, error)

	// Moderation
	ListPending(ctx context.Context, page, limit int) (*types.LocationPage, error)
	Approve(ctx context.Context, id int64) error
	Reject(ctx context.Context, id int64) error
}

type ServiceImpl struct {
	logger   *slog.Logger
	repo     Repository
	cfg      ServiceConfig
	validate *validator.Validate

	explorer Explorer
	enricher Enqueuer
	places   PlaceSearcher
	articles ArticleSource
	images   ImageFetcher
}

// Option wires an optional collaborator into the service.
type Option func(*ServiceImpl)

func WithExplorer(e Explorer) Option {
	return func(s *ServiceImpl) { s.explorer = e }
}

func WithEnricher(e Enqueuer) Option {
	return func(s *ServiceImpl) { s.enricher = e }
}

func WithPlaces(p PlaceSearcher) Option {
	return func(s *ServiceImpl) { s.places = p }
}

func WithArticles(a ArticleSource) Option {
	return func(s *ServiceImpl) { s.articles = a }
}

func WithImageFetcher(f ImageFetcher) Option {
	return func(s *ServiceImpl) { s.images = f }
}

func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger, opts ...Option) *ServiceImpl {
	s := &ServiceImpl{
		logger:   logger,
		repo:     repo,
		cfg:      cfg,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ServiceImpl) filterFor(q types.SearchQuery) types.LocationFilter {
	return types.LocationFilter{
		Terms:        ExpandTerms(q.Term),
		Category:     q.Category,
		Anchor:       q.Anchor,
		RadiusMeters: s.cfg.RadiusMeters,
		Visibility:   types.VisibilityPublic,
		Limit:        q.Limit,
		Offset:       q.Offset(),
	}
}

// ListLocations runs the aggregation pipeline: store fetch, exploration on
// the first page, re-fetch, optional Places merge, then enrichment scheduling.
func (s *ServiceImpl) ListLocations(ctx context.Context, q types.SearchQuery) (*types.LocationPage, error) {
	q.Normalize()
	ctx, span := otel.Tracer("LocationService").Start(ctx, "ListLocations", trace.WithAttributes(
		attribute.String("query.term", q.Term),
		attribute.String("query.category", string(q.Category)),
		attribute.Int("query.page", q.Page),
		attribute.Bool("query.anchored", q.Anchor != nil),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ListLocations"))

	if q.Anchor != nil && !types.ValidPosition(q.Anchor.Latitude, q.Anchor.Longitude) {
		span.SetStatus(codes.Error, "invalid anchor")
		return nil, fmt.Errorf("invalid coordinates: %w", types.ErrBadRequest)
	}
	if q.Category != types.CategoryAll && !q.Category.Valid() {
		span.SetStatus(codes.Error, "invalid category")
		return nil, fmt.Errorf("unknown category %q: %w", q.Category, types.ErrBadRequest)
	}

	filter := s.filterFor(q)
	results, err := s.repo.Query(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store query failed")
		return nil, err
	}

	if q.Page == 1 && s.explorer != nil {
		if inserted := s.explorer.Explore(ctx, q, results); inserted > 0 {
			l.InfoContext(ctx, "Exploration added records, re-fetching", slog.Int("inserted", inserted))
			results, err = s.repo.Query(ctx, filter)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "store re-fetch failed")
				return nil, err
			}
		}
	}

	if q.Page == 1 && q.Anchor != nil && s.cfg.PlacesMerge && s.places != nil && s.places.Enabled() {
		results = s.mergePlaces(ctx, q, results)
	}

	s.scheduleEnrichment(results)

	for i := range results {
		results[i].Description = textnorm.Truncate(results[i].Description, s.cfg.DescriptionPreview)
	}

	span.SetAttributes(attribute.Int("results.count", len(results)))
	span.SetStatus(codes.Ok, "Locations listed")
	return &types.LocationPage{Page: q.Page, Limit: q.Limit, Data: results}, nil
}

// mergePlaces folds nearby Places hits into the store results. Hits that
// are not duplicates of a store record are persisted as well.
func (s *ServiceImpl) mergePlaces(ctx context.Context, q types.SearchQuery, results []types.Location) []types.Location {
	l := s.logger.With(slog.String("method", "mergePlaces"))

	var external []types.Location
	for _, p := range s.places.SearchText(ctx, PlacesQuery(q.Category, ""), q.Anchor) {
		loc := s.placeToLocation(p, types.CategoryAll)
		if q.Category != types.CategoryAll && loc.Category != q.Category {
			continue
		}
		if s.cfg.RadiusMeters > 0 && distanceFrom(q.Anchor, loc) > s.cfg.RadiusMeters {
			continue
		}
		external = append(external, loc)
	}
	if len(external) == 0 {
		return results
	}

	var anchor *types.Anchor
	if q.Term == "" {
		anchor = q.Anchor
	}
	merged := Merge(results, external, anchor)

	stored := 0
	for _, loc := range merged {
		if loc.Stored() {
			continue
		}
		ok, err := s.repo.Upsert(ctx, loc)
		if err != nil {
			l.WarnContext(ctx, "Failed to persist places record", slog.String("name", loc.Name), slog.Any("error", err))
			continue
		}
		if ok {
			stored++
		}
	}
	l.DebugContext(ctx, "Places merged", slog.Int("external", len(external)), slog.Int("stored", stored))

	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	return merged
}

func (s *ServiceImpl) scheduleEnrichment(results []types.Location) {
	if s.enricher == nil {
		return
	}
	var jobs []types.EnrichmentJob
	for _, loc := range results {
		if loc.Stored() && !loc.HasMedia() {
			jobs = append(jobs, loc.EnrichmentJob())
		}
	}
	if len(jobs) > 0 {
		s.enricher.Enqueue(jobs...)
	}
}

func (s *ServiceImpl) placeToLocation(p sources.Place, requested types.Category) types.Location {
	c := requested
	if c == types.CategoryAll || c == "" {
		c = category.Classify(p.Tags(), p.Name, p.Summary)
	}
	loc := types.Location{
		ExternalID:  p.ID,
		Name:        p.Name,
		Category:    c,
		Description: p.Summary,
		Address:     p.Address,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Images:      []string{},
		Source:      types.SourcePlaces,
		Approved:    s.cfg.AutoApprove,
	}
	if p.PhotoURL != "" {
		loc.ImageURL = imageProxyPath + url.QueryEscape(p.PhotoURL)
		loc.Images = []string{loc.ImageURL}
	}
	return loc
}

// SearchExternal queries Places directly and decorates each hit with an
// encyclopedia summary found by position. Nothing is persisted.
func (s *ServiceImpl) SearchExternal(ctx context.Context, term string, c types.Category, anchor *types.Anchor) ([]types.Location, error) {
	ctx, span := otel.Tracer("LocationService").Start(ctx, "SearchExternal", trace.WithAttributes(
		attribute.String("query.term", term),
		attribute.String("query.category", string(c)),
	))
	defer span.End()

	term = strings.TrimSpace(term)
	if term == "" && anchor == nil {
		span.SetStatus(codes.Error, "missing query")
		return nil, fmt.Errorf("a search term or coordinates are required: %w", types.ErrBadRequest)
	}
	if anchor != nil && !types.ValidPosition(anchor.Latitude, anchor.Longitude) {
		span.SetStatus(codes.Error, "invalid anchor")
		return nil, fmt.Errorf("invalid coordinates: %w", types.ErrBadRequest)
	}
	if c == "" {
		c = types.CategoryAll
	}
	if s.places == nil || !s.places.Enabled() {
		span.SetStatus(codes.Error, "places disabled")
		return nil, fmt.Errorf("places search is not configured: %w", types.ErrUnavailable)
	}

	var bias *types.Anchor
	if term == "" {
		bias = anchor
	}

	var found []types.Location
	for _, p := range s.places.SearchText(ctx, PlacesQuery(c, term), bias) {
		if sources.BannedTopic(p.Name) {
			continue
		}
		found = append(found, s.placeToLocation(p, c))
	}

	if s.articles != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(externalLookupConcurrency)
		for i := range found {
			g.Go(func() error {
				loc := &found[i]
				a := s.articles.LookupByPosition(gctx, loc.Latitude, loc.Longitude, loc.Name)
				if a == nil {
					return nil
				}
				if utf8.RuneCountInString(a.Summary) > minArticleSummary {
					loc.Description = a.Summary
					loc.WikiTitle = a.Title
				}
				if loc.ImageURL == "" && a.ImageURL != "" {
					loc.ImageURL = a.ImageURL
					loc.Images = []string{a.ImageURL}
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range found {
		if found[i].ImageURL == "" {
			found[i].ImageURL = placeholderImage
		}
	}

	span.SetAttributes(attribute.Int("results.count", len(found)))
	span.SetStatus(codes.Ok, "External search completed")
	return found, nil
}

// Suggest stores a user proposed location awaiting moderation.
func (s *ServiceImpl) Suggest(ctx context.Context, req types.SuggestLocationRequest) (*types.Location, error) {
	ctx, span := otel.Tracer("LocationService").Start(ctx, "Suggest", trace.WithAttributes(
		attribute.String("location.name", req.Name),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Suggest"), slog.String("name", req.Name))

	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%s: %w", err.Error(), types.ErrBadRequest)
	}

	if req.GooglePlaceID != "" {
		existing, err := s.repo.FindByExternalID(ctx, req.GooglePlaceID)
		switch {
		case err == nil && existing != nil:
			l.InfoContext(ctx, "Suggestion duplicates an existing place", slog.Int64("existing_id", existing.ID))
			span.SetStatus(codes.Error, "duplicate")
			return nil, fmt.Errorf("place %s is already on the map: %w", req.GooglePlaceID, types.ErrConflict)
		case err != nil && !errors.Is(err, types.ErrNotFound):
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
			return nil, err
		}
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultSuggestionDescription
	}
	loc := types.Location{
		ExternalID:  req.GooglePlaceID,
		Name:        req.Name,
		Category:    category.Classify(nil, req.Name, description),
		Description: description,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		ImageURL:    req.ImageURL,
		Images:      []string{},
		Source:      types.SourceUser,
		Approved:    false,
		CreatedBy:   req.UserID,
	}
	if req.ImageURL != "" {
		loc.Images = []string{req.ImageURL}
	}

	id, err := s.repo.Insert(ctx, loc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, err
	}
	loc.ID = id

	l.InfoContext(ctx, "Location suggested", slog.Int64("id", id))
	span.SetStatus(codes.Ok, "Location suggested")
	return &loc, nil
}

func (s *ServiceImpl) WikiDetails(ctx context.Context, title string) (*types.WikiDetails, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", types.ErrBadRequest)
	}
	if s.articles == nil {
		return nil, fmt.Errorf("encyclopedia is not configured: %w", types.ErrUnavailable)
	}
	d := s.articles.FullExtract(ctx, title)
	if d == nil {
		return nil, fmt.Errorf("article %q: %w", title, types.ErrNotFound)
	}
	return d, nil
}

func (s *ServiceImpl) Description(ctx context.Context, id int64) (string, error) {
	if id <= 0 {
		return "", fmt.Errorf("invalid id: %w", types.ErrBadRequest)
	}
	return s.repo.GetDescription(ctx, id)
}

func (s *ServiceImpl) ProxyImage(ctx context.Context, raw string) (*sources.Image, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("url is required: %w", types.ErrBadRequest)
	}
	if s.images == nil {
		return nil, fmt.Errorf("image proxy is not configured: %w", types.ErrUnavailable)
	}
	return s.images.Fetch(ctx, raw)
}

func (s *ServiceImpl) ListPending(ctx context.Context, page, limit int) (*types.LocationPage, error) {
	q := types.SearchQuery{Page: page, Limit: limit}
	q.Normalize()

	results, err := s.repo.Query(ctx, types.LocationFilter{
		Category:   types.CategoryAll,
		Visibility: types.VisibilityPending,
		Limit:      q.Limit,
		Offset:     q.Offset(),
	})
	if err != nil {
		return nil, err
	}
	return &types.LocationPage{Page: q.Page, Limit: q.Limit, Data: results}, nil
}

func (s *ServiceImpl) Approve(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid id: %w", types.ErrBadRequest)
	}
	return s.repo.SetApproval(ctx, id, true)
}

// Reject removes a record for good.
func (s *ServiceImpl) Reject(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid id: %w", types.ErrBadRequest)
	}
	return s.repo.Delete(ctx, id)
}
