// Package exploration decides when the store holds too little for a query
// and fills it from a live collaborative-map area fetch.
package exploration

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/loci-heritage-api/internal/geo"
	"github.com/FACorreiaa/loci-heritage-api/internal/sources"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

type Geocoder interface {
	Search(ctx context.Context, name string) *sources.GeocodeResult
	Reverse(ctx context.Context, lat, lon float64) string
}

type AreaSearcher interface {
	Search(ctx context.Context, box types.BoundingBox) []sources.Element
}

type Store interface {
	Upsert(ctx context.Context, loc types.Location) (bool, error)
}

type Explorer struct {
	cfg      config.ExplorationConfig
	geocoder Geocoder
	area     AreaSearcher
	store    Store
	logger   *slog.Logger
}

func NewExplorer(cfg config.ExplorationConfig, geocoder Geocoder, area AreaSearcher, store Store, logger *slog.Logger) *Explorer {
	return &Explorer{
		cfg:      cfg,
		geocoder: geocoder,
		area:     area,
		store:    store,
		logger:   logger.With(slog.String("component", "exploration")),
	}
}

// Decide returns the area to explore for q, or false when the store
// results are sufficient or the term does not name an area.
func (e *Explorer) Decide(ctx context.Context, q types.SearchQuery, found []types.Location) (types.ExplorationArea, bool) {
	if !e.cfg.Enabled || q.Page > 1 {
		return types.ExplorationArea{}, false
	}

	term := strings.TrimSpace(q.Term)
	if term != "" {
		if utf8.RuneCountInString(term) < e.cfg.MinTermLength || len(found) >= e.cfg.MinResults {
			return types.ExplorationArea{}, false
		}
		return e.areaForTerm(ctx, term)
	}

	if q.Anchor == nil {
		return types.ExplorationArea{}, false
	}
	if len(found) >= e.cfg.MinResults && e.nearby(q.Anchor, found) >= e.cfg.MinNearby {
		return types.ExplorationArea{}, false
	}
	return e.areaForAnchor(ctx, *q.Anchor), true
}

func (e *Explorer) areaForTerm(ctx context.Context, term string) (types.ExplorationArea, bool) {
	l := e.logger.With(slog.String("method", "areaForTerm"), slog.String("term", term))

	res := e.geocoder.Search(ctx, term)
	if res == nil {
		l.DebugContext(ctx, "term did not geocode")
		return types.ExplorationArea{}, false
	}
	if !e.isArea(res) {
		l.DebugContext(ctx, "term names a point, not an area",
			slog.String("class", res.Class), slog.String("type", res.Type), slog.String("addresstype", res.AddressType))
		return types.ExplorationArea{}, false
	}

	var box types.BoundingBox
	switch {
	case e.dense(res.DisplayName):
		box = geo.BoxForZoom(res.Latitude, res.Longitude, e.cfg.DenseZoom)
	case res.Box != nil:
		box = geo.LimitSpan(*res.Box, e.cfg.MaxSpanDegrees)
	default:
		box = geo.BoxForZoom(res.Latitude, res.Longitude, e.cfg.SparseZoom)
	}
	return types.ExplorationArea{Box: box, Label: res.DisplayName}, true
}

func (e *Explorer) areaForAnchor(ctx context.Context, a types.Anchor) types.ExplorationArea {
	label := e.geocoder.Reverse(ctx, a.Latitude, a.Longitude)
	zoom := e.cfg.SparseZoom
	if e.dense(label) {
		zoom = e.cfg.DenseZoom
	}
	return types.ExplorationArea{Box: geo.BoxForZoom(a.Latitude, a.Longitude, zoom), Label: label}
}

// isArea accepts administrative areas and rejects countries and single places.
func (e *Explorer) isArea(r *sources.GeocodeResult) bool {
	if r.AddressType == "country" || r.Type == "country" {
		return false
	}
	if r.Class == "boundary" && r.Type == "administrative" {
		return true
	}
	return slices.Contains(e.cfg.AreaTypes, r.AddressType) || (r.Class == "place" && slices.Contains(e.cfg.AreaTypes, r.Type))
}

// dense matches the label against the dense city list on whole words.
func (e *Explorer) dense(label string) bool {
	if label == "" {
		return false
	}
	padded := " " + strings.Join(textnorm.Words(label), " ") + " "
	for _, city := range e.cfg.DenseCities {
		if strings.Contains(padded, " "+textnorm.Fold(city)+" ") {
			return true
		}
	}
	return false
}

func (e *Explorer) nearby(a *types.Anchor, found []types.Location) int {
	n := 0
	for _, loc := range found {
		d := 0.0
		if loc.Distance != nil {
			d = *loc.Distance
		} else {
			d = geo.DistanceMeters(a.Latitude, a.Longitude, loc.Latitude, loc.Longitude)
		}
		if d <= e.cfg.NearbyRadius {
			n++
		}
	}
	return n
}

// Explore runs one area fetch when Decide says so and upserts what it
// finds. It returns the number of new rows. The fetch is bounded by the
// configured timeout; an abandoned fetch writes nothing.
func (e *Explorer) Explore(ctx context.Context, q types.SearchQuery, found []types.Location) int {
	area, ok := e.Decide(ctx, q, found)
	if !ok {
		return 0
	}

	ctx, span := otel.Tracer("Exploration").Start(ctx, "Explore", trace.WithAttributes(
		attribute.String("area.label", area.Label),
		attribute.Float64("area.south", area.Box.South),
		attribute.Float64("area.west", area.Box.West),
		attribute.Float64("area.north", area.Box.North),
		attribute.Float64("area.east", area.Box.East),
	))
	defer span.End()

	l := e.logger.With(slog.String("method", "Explore"), slog.String("label", area.Label))
	l.InfoContext(ctx, "Exploring area", slog.Any("box", area.Box))

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	elements := e.area.Search(fetchCtx, area.Box)
	timedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	cancel()

	if timedOut {
		l.WarnContext(ctx, "Exploration abandoned after timeout", slog.Duration("timeout", e.cfg.Timeout))
		observability.ExplorationRunsTotal.WithLabelValues("timeout").Inc()
		span.SetStatus(codes.Error, "timeout")
		return 0
	}
	if len(elements) == 0 {
		observability.ExplorationRunsTotal.WithLabelValues("empty").Inc()
		span.SetStatus(codes.Ok, "no elements")
		return 0
	}

	candidates := Candidates(elements, area.Label, e.cfg.AutoApprove)
	inserted := 0
	for _, c := range candidates {
		ok, err := e.store.Upsert(ctx, c)
		if err != nil {
			l.WarnContext(ctx, "Failed to store discovered location", slog.String("name", c.Name), slog.Any("error", err))
			continue
		}
		if ok {
			inserted++
		}
	}

	observability.ExplorationRunsTotal.WithLabelValues("inserted").Inc()
	observability.ExplorationInserted.Add(float64(inserted))
	l.InfoContext(ctx, "Exploration completed",
		slog.Int("elements", len(elements)),
		slog.Int("candidates", len(candidates)),
		slog.Int("inserted", inserted))

	span.SetAttributes(
		attribute.Int("elements", len(elements)),
		attribute.Int("inserted", inserted),
	)
	span.SetStatus(codes.Ok, "Exploration completed")
	return inserted
}
