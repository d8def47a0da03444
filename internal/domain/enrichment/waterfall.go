// Package enrichment backfills images and descriptions for stored locations
// in the background.
package enrichment

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/loci-heritage-api/internal/sources"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

// Step names the waterfall stage that produced the images for a record.
type Step string

const (
	StepByName        Step = "by_name"
	StepByPosition    Step = "by_position"
	StepGallery       Step = "gallery"
	StepStreetImagery Step = "street_imagery"
	StepExhausted     Step = "exhausted"
	StepError         Step = "error"
)

// Retry reports whether the record should be left alone for a while.
func (s Step) Retry() bool {
	return s == StepExhausted || s == StepError
}

type ArticleFinder interface {
	LookupByName(ctx context.Context, name, hint string, near *types.Anchor) *sources.Article
	LookupByPosition(ctx context.Context, lat, lon float64, name string) *sources.Article
}

type GallerySearcher interface {
	SearchImages(ctx context.Context, name string) []sources.GalleryImage
}

type StreetImagery interface {
	Nearby(ctx context.Context, lat, lon float64) string
}

type MediaWriter interface {
	UpdateMedia(ctx context.Context, name string, media types.MediaUpdate) error
}

// Waterfall tries media sources from most to least specific and stops at
// the first one that yields images.
type Waterfall struct {
	articles ArticleFinder
	gallery  GallerySearcher
	street   StreetImagery
	store    MediaWriter
	logger   *slog.Logger
}

func NewWaterfall(articles ArticleFinder, gallery GallerySearcher, street StreetImagery, store MediaWriter, logger *slog.Logger) *Waterfall {
	return &Waterfall{
		articles: articles,
		gallery:  gallery,
		street:   street,
		store:    store,
		logger:   logger.With(slog.String("component", "enrichment")),
	}
}

// Resolve collects media for job without writing anything.
func (w *Waterfall) Resolve(ctx context.Context, job types.EnrichmentJob) (types.MediaUpdate, Step) {
	var media types.MediaUpdate

	article := w.articles.LookupByName(ctx, job.Name, job.Address, &types.Anchor{Latitude: job.Latitude, Longitude: job.Longitude})
	if article != nil {
		media.Description, media.WikiTitle = article.Summary, article.Title
		if article.ImageURL != "" {
			media.Images, media.ImageURL = []string{article.ImageURL}, article.ImageURL
			return media, StepByName
		}
	} else if byPos := w.articles.LookupByPosition(ctx, job.Latitude, job.Longitude, job.Name); byPos != nil && sources.RelevantTitle(job.Name, byPos.Title) {
		media.Description, media.WikiTitle = byPos.Summary, byPos.Title
		if byPos.ImageURL != "" {
			media.Images, media.ImageURL = []string{byPos.ImageURL}, byPos.ImageURL
			return media, StepByPosition
		}
	}

	if found := w.gallery.SearchImages(ctx, job.Name); len(found) > 0 {
		media.Images = make([]string, 0, len(found))
		for _, img := range found {
			media.Images = append(media.Images, img.URL)
		}
		media.ImageURL = found[0].URL
		media.Author, media.License = found[0].Author, found[0].License
		return media, StepGallery
	}

	if u := w.street.Nearby(ctx, job.Latitude, job.Longitude); u != "" {
		media.Images, media.ImageURL = []string{u}, u
		return media, StepStreetImagery
	}

	return media, StepExhausted
}

// Process resolves and persists media for one record. Failures are logged
// and counted, never returned.
func (w *Waterfall) Process(ctx context.Context, job types.EnrichmentJob) Step {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Process", trace.WithAttributes(
		attribute.Int64("location.id", job.ID),
		attribute.String("location.name", job.Name),
	))
	defer span.End()

	l := w.logger.With(slog.String("method", "Process"), slog.String("name", job.Name))

	media, step := w.Resolve(ctx, job)
	if len(media.Images) > 0 || media.Description != "" {
		if err := w.store.UpdateMedia(ctx, job.Name, media); err != nil {
			l.WarnContext(ctx, "Failed to store enrichment result", slog.String("step", string(step)), slog.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
			observability.EnrichmentOutcomes.WithLabelValues(string(StepError)).Inc()
			return StepError
		}
	}

	l.DebugContext(ctx, "Enrichment finished", slog.String("step", string(step)), slog.Int("images", len(media.Images)))
	observability.EnrichmentOutcomes.WithLabelValues(string(step)).Inc()
	span.SetAttributes(attribute.String("enrichment.step", string(step)))
	span.SetStatus(codes.Ok, "Enrichment finished")
	return step
}
