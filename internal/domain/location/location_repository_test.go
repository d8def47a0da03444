package location

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var viennaAnchor = &types.Anchor{Latitude: 48.2082, Longitude: 16.3738}

func TestBuildQuery_AnchorWithoutTerm(t *testing.T) {
	sql, args, err := buildQuery(types.LocationFilter{
		Category:     types.CategoryCastles,
		Anchor:       viennaAnchor,
		RadiusMeters: 80000,
		Limit:        50,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)")
	assert.Contains(t, sql, "is_approved = $3")
	assert.Contains(t, sql, "category = $4")
	assert.Contains(t, sql, "ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7)")
	assert.Contains(t, sql, "ORDER BY geom <-> ST_SetSRID(ST_MakePoint($8, $9), 4326)")
	assert.Contains(t, sql, "LIMIT 50")
	assert.NotContains(t, sql, "OFFSET")
	assert.Equal(t, []any{16.3738, 48.2082, true, "Castles", 16.3738, 48.2082, 80000.0, 16.3738, 48.2082}, args)
}

func TestBuildQuery_TermsOrderByRecency(t *testing.T) {
	sql, args, err := buildQuery(types.LocationFilter{
		Terms:        []string{"castle", "schloss"},
		Category:     types.CategoryAll,
		Anchor:       viennaAnchor,
		RadiusMeters: 80000,
		Limit:        20,
		Offset:       40,
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "ST_DWithin")
	assert.NotContains(t, sql, "category =")
	assert.Contains(t, sql, "((name ILIKE $4 OR country ILIKE $5) OR (name ILIKE $6 OR country ILIKE $7))")
	assert.Contains(t, sql, "ORDER BY id DESC")
	assert.Contains(t, sql, "LIMIT 20 OFFSET 40")
	assert.Equal(t, "%castle%", args[3])
	assert.Equal(t, "%schloss%", args[5])
}

func TestBuildQuery_PendingVisibility(t *testing.T) {
	sql, args, err := buildQuery(types.LocationFilter{Visibility: types.VisibilityPending, Limit: 10})
	require.NoError(t, err)
	assert.Contains(t, sql, "NULL::double precision")
	assert.Contains(t, sql, "is_approved = $1")
	assert.Equal(t, []any{false}, args)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% \_x\\`, escapeLike(`100% _x\`))
}

var rowColumns = []string{
	"id", "name", "category", "description", "country", "lat", "lon", "image_url", "images",
	"author", "license", "wiki_title", "google_place_id", "source", "is_approved",
	"created_by_user_id", "created_at", "distance",
}

func TestRepositoryQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	distance := 1250.5
	rows := pgxmock.NewRows(rowColumns).
		AddRow(int64(7), "Schloss Belvedere", "Castles", "Baroque palace", "Wien", 48.1915, 16.3809,
			"https://img/b.jpg", []string{"https://img/b.jpg"}, "", "", "Belvedere, Vienna", "", "exploration", true,
			nil, created, &distance)

	mock.ExpectQuery(regexp.QuoteMeta("FROM historical_locations WHERE is_approved = $3 AND category = $4")).
		WillReturnRows(rows)

	repo := NewRepository(mock, newTestLogger())
	got, err := repo.Query(context.Background(), types.LocationFilter{
		Category:     types.CategoryCastles,
		Anchor:       viennaAnchor,
		RadiusMeters: 80000,
		Limit:        50,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, types.CategoryCastles, got[0].Category)
	assert.Equal(t, types.SourceExploration, got[0].Source)
	require.NotNil(t, got[0].Distance)
	assert.InDelta(t, 1250.5, *got[0].Distance, 0.001)
	assert.Nil(t, got[0].CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryQuery_StoreFailureSurfaces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	repo := NewRepository(mock, newTestLogger())
	_, err = repo.Query(context.Background(), types.LocationFilter{Limit: 10})
	require.ErrorIs(t, err, assert.AnError)
}

func TestRepositoryUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	loc := types.Location{Name: "Burg Kreuzenstein", Category: types.CategoryCastles, Latitude: 48.3789, Longitude: 16.3119}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs("Burg Kreuzenstein", "Castles", "", "", "", []string{}, "", "", "", "", "exploration", false,
			pgxmock.AnyArg(), 16.3119, 48.3789).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs("Burg Kreuzenstein", "Castles", "", "", "", []string{}, "", "", "", "", "exploration", false,
			pgxmock.AnyArg(), 16.3119, 48.3789).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewRepository(mock, newTestLogger())

	inserted, err := repo.Upsert(context.Background(), loc)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Upsert(context.Background(), loc)
	require.NoError(t, err)
	assert.False(t, inserted, "second upsert with the same name is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpsert_RejectsInvalidPosition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock, newTestLogger())
	_, err = repo.Upsert(context.Background(), types.Location{Name: "Nowhere", Latitude: 95, Longitude: 10})
	require.ErrorIs(t, err, types.ErrBadRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsert_DuplicateIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("RETURNING id")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "historical_locations_google_place_id_key"})

	repo := NewRepository(mock, newTestLogger())
	_, err = repo.Insert(context.Background(), types.Location{Name: "Albertina", Latitude: 48.2046, Longitude: 16.3683})
	require.ErrorIs(t, err, types.ErrConflict)
}

func TestRepositoryUpdateMedia(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE historical_locations SET")).
		WithArgs("Hofburg", []string{"https://img/h.jpg"}, "https://img/h.jpg", "", "", "Imperial palace", "Hofburg").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE historical_locations SET")).
		WithArgs("Gone", []string{}, "", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepository(mock, newTestLogger())
	err = repo.UpdateMedia(context.Background(), "Hofburg", types.MediaUpdate{
		Images:      []string{"https://img/h.jpg"},
		Description: "Imperial palace",
		WikiTitle:   "Hofburg",
	})
	require.NoError(t, err)

	err = repo.UpdateMedia(context.Background(), "Gone", types.MediaUpdate{})
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySetApprovalAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET is_approved = $2")).WithArgs(int64(3), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM historical_locations")).WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewRepository(mock, newTestLogger())
	require.NoError(t, repo.SetApproval(context.Background(), 3, true))
	require.ErrorIs(t, repo.Delete(context.Background(), 4), types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetDescription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(description, '')")).WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"description"}).AddRow("Gothic cathedral"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(description, '')")).WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)

	repo := NewRepository(mock, newTestLogger())
	d, err := repo.GetDescription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Gothic cathedral", d)

	_, err = repo.GetDescription(context.Background(), 2)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestRepositoryFindByExternalID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE google_place_id = $1")).WithArgs("ChIJ123").
		WillReturnRows(pgxmock.NewRows(rowColumns[:len(rowColumns)-1]))

	repo := NewRepository(mock, newTestLogger())
	_, err = repo.FindByExternalID(context.Background(), "ChIJ123")
	require.ErrorIs(t, err, types.ErrNotFound)
}
