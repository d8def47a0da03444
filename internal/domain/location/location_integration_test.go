//go:build integration

package location

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/db"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostGIS(t *testing.T) *db.DB {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgis/postgis:16-3.4",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "heritage",
				"POSTGRES_PASSWORD": "heritage",
				"POSTGRES_DB":       "heritage",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	database, err := db.New(db.Config{
		DSN:      fmt.Sprintf("postgres://heritage:heritage@%s:%s/heritage?sslmode=disable", host, port.Port()),
		MaxConns: 5,
	}, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.RunMigrations())
	return database
}

var viennaCenter = &types.Anchor{Latitude: 48.2082, Longitude: 16.3738}

func seedVienna(t *testing.T, repo *RepositoryImpl) {
	t.Helper()
	ctx := context.Background()
	seed := []types.Location{
		{Name: "Hofburg", Category: types.CategoryCastles, Latitude: 48.2066, Longitude: 16.3655, Approved: true},
		{Name: "Schloss Schönbrunn", Category: types.CategoryCastles, Latitude: 48.1845, Longitude: 16.3122, Approved: true},
		{Name: "Burg Kreuzenstein", Category: types.CategoryCastles, Latitude: 48.3780, Longitude: 16.3110, Approved: true},
		{Name: "Festung Hohensalzburg", Category: types.CategoryCastles, Latitude: 47.7950, Longitude: 13.0470, Approved: true},
		{Name: "Stephansdom", Category: types.CategoryReligious, Latitude: 48.2085, Longitude: 16.3731, Approved: true},
		{Name: "Palais Unbestätigt", Category: types.CategoryCastles, Latitude: 48.2100, Longitude: 16.3700, Approved: false},
	}
	for _, loc := range seed {
		inserted, err := repo.Upsert(ctx, loc)
		require.NoError(t, err)
		require.True(t, inserted, loc.Name)
	}
}

func TestRepository_ViennaCastlesWithinRadius_Integration(t *testing.T) {
	database := startPostGIS(t)
	repo := NewRepository(database.Pool, newTestLogger())
	seedVienna(t, repo)

	got, err := repo.Query(context.Background(), types.LocationFilter{
		Category:     types.CategoryCastles,
		Anchor:       viennaCenter,
		RadiusMeters: 80000,
		Visibility:   types.VisibilityPublic,
		Limit:        50,
	})
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, loc := range got {
		names = append(names, loc.Name)
		require.NotNil(t, loc.Distance)
		assert.LessOrEqual(t, *loc.Distance, 80000.0)
		assert.Equal(t, types.CategoryCastles, loc.Category)
	}
	assert.Equal(t, []string{"Hofburg", "Schloss Schönbrunn", "Burg Kreuzenstein"}, names)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, *got[i-1].Distance, *got[i].Distance)
	}
}

func TestRepository_TermSearchUsesSynonyms_Integration(t *testing.T) {
	database := startPostGIS(t)
	repo := NewRepository(database.Pool, newTestLogger())
	seedVienna(t, repo)

	got, err := repo.Query(context.Background(), types.LocationFilter{
		Terms:      ExpandTerms("castle"),
		Category:   types.CategoryAll,
		Visibility: types.VisibilityPublic,
		Limit:      50,
	})
	require.NoError(t, err)

	var names []string
	for _, loc := range got {
		names = append(names, loc.Name)
	}
	assert.ElementsMatch(t, []string{"Schloss Schönbrunn", "Burg Kreuzenstein", "Festung Hohensalzburg", "Hofburg"}, names)
}

func TestRepository_UpsertIsIdempotent_Integration(t *testing.T) {
	database := startPostGIS(t)
	repo := NewRepository(database.Pool, newTestLogger())
	ctx := context.Background()

	loc := types.Location{Name: "Karlskirche", ExternalID: "ChIJkarl", Category: types.CategoryReligious, Latitude: 48.1982, Longitude: 16.3719, Approved: true}

	inserted, err := repo.Upsert(ctx, loc)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Upsert(ctx, loc)
	require.NoError(t, err)
	assert.False(t, inserted)

	other := loc
	other.Name = "St. Charles Church"
	inserted, err = repo.Upsert(ctx, other)
	require.NoError(t, err)
	assert.False(t, inserted, "same external id must not create a second row")

	var count int
	require.NoError(t, database.Pool.QueryRow(ctx, "SELECT count(*) FROM historical_locations").Scan(&count))
	assert.Equal(t, 1, count)

	_, err = repo.Insert(ctx, loc)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestRepository_MediaAndModeration_Integration(t *testing.T) {
	database := startPostGIS(t)
	repo := NewRepository(database.Pool, newTestLogger())
	ctx := context.Background()

	id, err := repo.Insert(ctx, types.Location{
		Name:        "Albertina",
		Category:    types.CategoryMuseums,
		Description: "Art museum.",
		Latitude:    48.2046,
		Longitude:   16.3681,
		Source:      types.SourceUser,
	})
	require.NoError(t, err)

	missing, err := repo.FindMissingMedia(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, repo.UpdateMedia(ctx, "Albertina", types.MediaUpdate{
		Images:      []string{"https://upload.wikimedia.org/a.jpg", "https://upload.wikimedia.org/b.jpg"},
		Description: "Replacement text.",
		Author:      "Jane",
		License:     "CC BY-SA 4.0",
		WikiTitle:   "Albertina",
	}))

	missing, err = repo.FindMissingMedia(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = repo.GetDescription(ctx, id)
	assert.ErrorIs(t, err, types.ErrNotFound, "unapproved records are not public")

	pending, err := repo.Query(ctx, types.LocationFilter{Category: types.CategoryAll, Visibility: types.VisibilityPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://upload.wikimedia.org/a.jpg", pending[0].ImageURL)
	assert.Equal(t, "Jane", pending[0].Author)

	require.NoError(t, repo.SetApproval(ctx, id, true))
	desc, err := repo.GetDescription(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Art museum.", desc)

	require.NoError(t, repo.Delete(ctx, id))
	assert.ErrorIs(t, repo.Delete(ctx, id), types.ErrNotFound)
}
