package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

const table = "historical_locations"

// DBTX is the subset of pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	Query(ctx context.Context, filter types.LocationFilter) ([]types.Location, error)
	// Upsert inserts loc unless a record with the same name or external id
	// exists. It reports whether a row was written.
	Upsert(ctx context.Context, loc types.Location) (bool, error)
	// Insert writes loc and fails with types.ErrConflict on any unique violation.
	Insert(ctx context.Context, loc types.Location) (int64, error)
	UpdateMedia(ctx context.Context, name string, media types.MediaUpdate) error
	SetApproval(ctx context.Context, id int64, approved bool) error
	Delete(ctx context.Context, id int64) error
	FindByExternalID(ctx context.Context, externalID string) (*types.Location, error)
	GetDescription(ctx context.Context, id int64) (string, error)
	FindMissingMedia(ctx context.Context, limit int) ([]types.Location, error)
}

type RepositoryImpl struct {
	logger *slog.Logger
	db     DBTX
}

func NewRepository(db DBTX, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		db:     db,
	}
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var locationColumns = []string{
	"id",
	"name",
	"category",
	"COALESCE(description, '')",
	"COALESCE(country, '')",
	"ST_Y(geom)",
	"ST_X(geom)",
	"COALESCE(image_url, '')",
	"images",
	"COALESCE(author, '')",
	"COALESCE(license, '')",
	"COALESCE(wiki_title, '')",
	"COALESCE(google_place_id, '')",
	"source",
	"is_approved",
	"created_by_user_id",
	"created_at",
}

const anchorPoint = "ST_SetSRID(ST_MakePoint(?, ?), 4326)"

// buildQuery renders a filter as a single SELECT. Distance ordering applies
// only to anchored queries without search terms.
func buildQuery(f types.LocationFilter) (string, []any, error) {
	q := psql.Select(locationColumns...)

	byDistance := f.Anchor != nil && len(f.Terms) == 0
	if f.Anchor != nil {
		q = q.Column(squirrel.Expr("ST_Distance(geom::geography, "+anchorPoint+"::geography)",
			f.Anchor.Longitude, f.Anchor.Latitude))
	} else {
		q = q.Column("NULL::double precision")
	}
	q = q.From(table)

	switch f.Visibility {
	case types.VisibilityPending:
		q = q.Where(squirrel.Eq{"is_approved": false})
	default:
		q = q.Where(squirrel.Eq{"is_approved": true})
	}

	if f.Category != "" && f.Category != types.CategoryAll {
		q = q.Where(squirrel.Eq{"category": string(f.Category)})
	}

	if len(f.Terms) > 0 {
		or := squirrel.Or{}
		for _, t := range f.Terms {
			p := "%" + escapeLike(t) + "%"
			or = append(or, squirrel.Expr("(name ILIKE ? OR country ILIKE ?)", p, p))
		}
		q = q.Where(or)
	}

	if byDistance && f.RadiusMeters > 0 {
		q = q.Where(squirrel.Expr("ST_DWithin(geom::geography, "+anchorPoint+"::geography, ?)",
			f.Anchor.Longitude, f.Anchor.Latitude, f.RadiusMeters))
	}

	if byDistance {
		q = q.OrderByClause("geom <-> "+anchorPoint, f.Anchor.Longitude, f.Anchor.Latitude)
	} else {
		q = q.OrderBy("id DESC")
	}

	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.ToSql()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *RepositoryImpl) Query(ctx context.Context, filter types.LocationFilter) ([]types.Location, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "Query", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", table),
		attribute.String("category", string(filter.Category)),
		attribute.Int("terms", len(filter.Terms)),
		attribute.Bool("anchored", filter.Anchor != nil),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Query"))

	query, args, err := buildQuery(filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build query failed")
		return nil, fmt.Errorf("failed to build location query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query locations", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	locations, err := scanLocations(rows, true)
	if err != nil {
		l.ErrorContext(ctx, "Failed to scan locations", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}

	l.DebugContext(ctx, "Locations fetched", slog.Int("count", len(locations)))
	span.SetAttributes(attribute.Int("results.count", len(locations)))
	span.SetStatus(codes.Ok, "Locations fetched")
	return locations, nil
}

func scanLocations(rows pgx.Rows, withDistance bool) ([]types.Location, error) {
	locations := []types.Location{}
	for rows.Next() {
		var (
			loc      types.Location
			category string
			source   string
		)
		dest := []any{
			&loc.ID,
			&loc.Name,
			&category,
			&loc.Description,
			&loc.Address,
			&loc.Latitude,
			&loc.Longitude,
			&loc.ImageURL,
			&loc.Images,
			&loc.Author,
			&loc.License,
			&loc.WikiTitle,
			&loc.ExternalID,
			&source,
			&loc.Approved,
			&loc.CreatedBy,
			&loc.CreatedAt,
		}
		if withDistance {
			dest = append(dest, &loc.Distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		loc.Category = types.Category(category)
		loc.Source = types.Source(source)
		if loc.Images == nil {
			loc.Images = []string{}
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating location rows: %w", err)
	}
	return locations, nil
}

const insertSQL = `
        INSERT INTO historical_locations (
            name, category, description, country, image_url, images, author, license,
            wiki_title, google_place_id, source, is_approved, created_by_user_id, geom
        ) VALUES (
            $1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''),
            NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13,
            ST_SetSRID(ST_MakePoint($14, $15), 4326)
        )`

func insertArgs(loc types.Location) []any {
	images := loc.Images
	if images == nil {
		images = []string{}
	}
	category := loc.Category
	if !category.Valid() {
		category = types.CategoryOthers
	}
	source := loc.Source
	if source == "" {
		source = types.SourceExploration
	}
	return []any{
		loc.Name,
		string(category),
		loc.Description,
		loc.Address,
		loc.ImageURL,
		images,
		loc.Author,
		loc.License,
		loc.WikiTitle,
		loc.ExternalID,
		string(source),
		loc.Approved,
		loc.CreatedBy,
		loc.Longitude,
		loc.Latitude,
	}
}

func (r *RepositoryImpl) Upsert(ctx context.Context, loc types.Location) (bool, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "Upsert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", table),
		attribute.String("location.name", loc.Name),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Upsert"), slog.String("name", loc.Name))

	if strings.TrimSpace(loc.Name) == "" || !types.ValidPosition(loc.Latitude, loc.Longitude) {
		span.SetStatus(codes.Error, "invalid location")
		return false, fmt.Errorf("location needs a name and a valid position: %w", types.ErrBadRequest)
	}

	tag, err := r.db.Exec(ctx, insertSQL+" ON CONFLICT DO NOTHING", insertArgs(loc)...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to upsert location", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return false, fmt.Errorf("failed to upsert location %q: %w", loc.Name, err)
	}

	inserted := tag.RowsAffected() > 0
	span.SetAttributes(attribute.Bool("inserted", inserted))
	span.SetStatus(codes.Ok, "Location upserted")
	return inserted, nil
}

func (r *RepositoryImpl) Insert(ctx context.Context, loc types.Location) (int64, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", table),
		attribute.String("location.name", loc.Name),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Insert"), slog.String("name", loc.Name))

	var id int64
	err := r.db.QueryRow(ctx, insertSQL+" RETURNING id", insertArgs(loc)...).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			l.WarnContext(ctx, "Attempted to insert duplicate location", slog.String("constraint", pgErr.ConstraintName))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Duplicate location")
			return 0, fmt.Errorf("location %q already exists: %w", loc.Name, types.ErrConflict)
		}
		l.ErrorContext(ctx, "Failed to insert location", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return 0, fmt.Errorf("failed to insert location: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.location.id", id))
	span.SetStatus(codes.Ok, "Location inserted")
	return id, nil
}

// UpdateMedia writes enrichment results. Images replace the current list
// together with the primary image and attribution; the description is only
// written when the record has none.
func (r *RepositoryImpl) UpdateMedia(ctx context.Context, name string, media types.MediaUpdate) error {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "UpdateMedia", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", table),
		attribute.String("location.name", name),
		attribute.Int("images", len(media.Images)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "UpdateMedia"), slog.String("name", name))

	images := media.Images
	if images == nil {
		images = []string{}
	}
	primary := media.ImageURL
	if primary == "" && len(images) > 0 {
		primary = images[0]
	}

	query := `
        UPDATE historical_locations SET
            images      = CASE WHEN cardinality($2::text[]) > 0 THEN $2::text[] ELSE images END,
            image_url   = CASE WHEN cardinality($2::text[]) > 0 THEN NULLIF($3, '') ELSE image_url END,
            author      = CASE WHEN cardinality($2::text[]) > 0 THEN NULLIF($4, '') ELSE author END,
            license     = CASE WHEN cardinality($2::text[]) > 0 THEN NULLIF($5, '') ELSE license END,
            description = COALESCE(NULLIF(description, ''), NULLIF($6, '')),
            wiki_title  = COALESCE(wiki_title, NULLIF($7, '')),
            updated_at  = NOW()
        WHERE name = $1`

	tag, err := r.db.Exec(ctx, query, name, images, primary, media.Author, media.License, media.Description, media.WikiTitle)
	if err != nil {
		l.ErrorContext(ctx, "Failed to update location media", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to update media for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Location not found")
		return fmt.Errorf("location %q: %w", name, types.ErrNotFound)
	}

	span.SetStatus(codes.Ok, "Media updated")
	return nil
}

func (r *RepositoryImpl) SetApproval(ctx context.Context, id int64, approved bool) error {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "SetApproval", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", table),
		attribute.Int64("db.location.id", id),
		attribute.Bool("approved", approved),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "SetApproval"), slog.Int64("id", id))

	tag, err := r.db.Exec(ctx, "UPDATE historical_locations SET is_approved = $2, updated_at = NOW() WHERE id = $1", id, approved)
	if err != nil {
		l.ErrorContext(ctx, "Failed to update approval", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to set approval on location %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Location not found")
		return fmt.Errorf("location %d: %w", id, types.ErrNotFound)
	}

	l.InfoContext(ctx, "Location approval updated", slog.Bool("approved", approved))
	span.SetStatus(codes.Ok, "Approval updated")
	return nil
}

func (r *RepositoryImpl) Delete(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "Delete", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", table),
		attribute.Int64("db.location.id", id),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Delete"), slog.Int64("id", id))

	tag, err := r.db.Exec(ctx, "DELETE FROM historical_locations WHERE id = $1", id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to delete location", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return fmt.Errorf("failed to delete location %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Location not found")
		return fmt.Errorf("location %d: %w", id, types.ErrNotFound)
	}

	l.InfoContext(ctx, "Location deleted")
	span.SetStatus(codes.Ok, "Location deleted")
	return nil
}

func (r *RepositoryImpl) FindByExternalID(ctx context.Context, externalID string) (*types.Location, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "FindByExternalID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", table),
		attribute.String("external_id", externalID),
	))
	defer span.End()

	query, args, err := psql.Select(locationColumns...).
		From(table).
		Where(squirrel.Eq{"google_place_id": externalID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build external id query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to find location by external id: %w", err)
	}
	defer rows.Close()

	locations, err := scanLocations(rows, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}
	if len(locations) == 0 {
		span.SetStatus(codes.Ok, "not found")
		return nil, fmt.Errorf("location with external id %q: %w", externalID, types.ErrNotFound)
	}

	span.SetStatus(codes.Ok, "Location found")
	return &locations[0], nil
}

func (r *RepositoryImpl) GetDescription(ctx context.Context, id int64) (string, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "GetDescription", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", table),
		attribute.Int64("db.location.id", id),
	))
	defer span.End()

	var description string
	err := r.db.QueryRow(ctx,
		"SELECT COALESCE(description, '') FROM historical_locations WHERE id = $1 AND is_approved = TRUE", id,
	).Scan(&description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "not found")
			return "", fmt.Errorf("location %d: %w", id, types.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return "", fmt.Errorf("failed to get description of location %d: %w", id, err)
	}

	span.SetStatus(codes.Ok, "Description fetched")
	return description, nil
}

// FindMissingMedia returns the most recent records that have neither an
// image list nor a primary image.
func (r *RepositoryImpl) FindMissingMedia(ctx context.Context, limit int) ([]types.Location, error) {
	ctx, span := otel.Tracer("LocationRepo").Start(ctx, "FindMissingMedia", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", table),
		attribute.Int("limit", limit),
	))
	defer span.End()

	query, args, err := psql.Select(locationColumns...).
		From(table).
		Where("cardinality(images) = 0").
		Where("(image_url IS NULL OR image_url = '')").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build missing media query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query locations without media", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to query locations without media: %w", err)
	}
	defer rows.Close()

	locations, err := scanLocations(rows, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("results.count", len(locations)))
	span.SetStatus(codes.Ok, "Locations fetched")
	return locations, nil
}
