package sources

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-heritage-api/internal/cache"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOptions() Options {
	return Options{
		UserAgent: "heritage-test/1.0",
		Breaker:   config.BreakerConfig{MaxRequests: 1, Timeout: time.Minute, MinRequests: 100},
		Logger:    newTestLogger(),
	}
}

func noShuffle(int, func(i, j int)) {}

var vienna = types.BoundingBox{South: 48.19, West: 16.35, North: 48.22, East: 16.39}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(vienna, 25)
	assert.True(t, strings.HasPrefix(q, "[out:json][timeout:25];"))
	assert.Contains(t, q, `nwr["historic"](48.190000,16.350000,48.220000,16.390000);`)
	assert.Contains(t, q, `nwr["tourism"]`)
	assert.Contains(t, q, `nwr["landmark"]`)
	assert.Contains(t, q, "out center;")
}

func TestOverpassSearch_FailsOverToNextMirror(t *testing.T) {
	var firstCalls, secondCalls atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), "out center")
		_, _ = io.WriteString(w, `{"elements":[
			{"type":"node","id":1,"lat":48.2,"lon":16.37,"tags":{"historic":"monument","name":"Pestsäule"}},
			{"type":"way","id":2,"center":{"lat":48.21,"lon":16.36},"tags":{"historic":"castle","name":"Hofburg"}}
		]}`)
	}))
	defer up.Close()

	c := NewOverpassClient(config.OverpassConfig{
		Mirrors:      []string{down.URL, up.URL},
		Timeout:      2 * time.Second,
		QueryTimeout: 25,
	}, testOptions())
	c.shuffle = noShuffle

	elements := c.Search(context.Background(), vienna)
	require.Len(t, elements, 2)
	assert.Equal(t, int32(1), firstCalls.Load())
	assert.Equal(t, int32(1), secondCalls.Load())

	lat, lon, ok := elements[1].Position()
	require.True(t, ok)
	assert.Equal(t, 48.21, lat)
	assert.Equal(t, 16.36, lon)
}

func TestOverpassSearch_AllMirrorsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOverpassClient(config.OverpassConfig{Mirrors: []string{srv.URL, srv.URL + "/b"}, Timeout: time.Second}, testOptions())
	c.shuffle = noShuffle
	assert.Empty(t, c.Search(context.Background(), vienna))
}

func TestOverpassSearch_InvalidBoxSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	c := NewOverpassClient(config.OverpassConfig{Mirrors: []string{srv.URL}, Timeout: time.Second}, testOptions())
	assert.Nil(t, c.Search(context.Background(), types.BoundingBox{South: 10, North: 5, West: 0, East: 1}))
	assert.Zero(t, calls.Load())
}

func TestGeocoderSearch_CachesPositiveAndNegative(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "heritage-test/1.0", r.Header.Get("User-Agent"))
		if r.URL.Query().Get("q") == "Nowhere" {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `[{"display_name":"Innere Stadt, Wien","class":"boundary","type":"administrative",
			"addresstype":"city_district","lat":"48.2084","lon":"16.3725",
			"boundingbox":["48.1999","48.2172","16.3545","16.3853"]}]`)
	}))
	defer srv.Close()

	g := NewGeocoder(config.GeocoderConfig{BaseURL: srv.URL, Timeout: time.Second},
		cache.NewMemoryStore(time.Hour, time.Hour), time.Hour, testOptions())
	ctx := context.Background()

	r := g.Search(ctx, "Innere Stadt")
	require.NotNil(t, r)
	assert.Equal(t, "city_district", r.AddressType)
	require.NotNil(t, r.Box)
	assert.Equal(t, 48.1999, r.Box.South)
	assert.Equal(t, 16.3853, r.Box.East)

	again := g.Search(ctx, "  innere   STADT ")
	require.NotNil(t, again)
	assert.Equal(t, r.DisplayName, again.DisplayName)

	assert.Nil(t, g.Search(ctx, "Nowhere"))
	assert.Nil(t, g.Search(ctx, "Nowhere"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocoderReverse_PicksFinestLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		_, _ = io.WriteString(w, `{"address":{"suburb":"Josefstadt","city":"Vienna"}}`)
	}))
	defer srv.Close()

	g := NewGeocoder(config.GeocoderConfig{BaseURL: srv.URL, Timeout: time.Second}, nil, 0, testOptions())
	assert.Equal(t, "Josefstadt", g.Reverse(context.Background(), 48.21, 16.35))
}

func TestPlacesSearchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.types")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"textQuery":"Castles, palaces, fortresses, and citadels in Vienna"`)
		assert.Contains(t, string(body), `"radius":15000`)
		_, _ = io.WriteString(w, `{"places":[
			{"id":"p1","displayName":{"text":"Schönbrunn Palace"},"formattedAddress":"Schönbrunner Schloßstraße 47",
			 "location":{"latitude":48.1845,"longitude":16.3122},"types":["tourist_attraction","castle"],
			 "photos":[{"name":"places/p1/photos/abc"}]},
			{"id":"p2","displayName":{"text":""},"location":{"latitude":1,"longitude":1}},
			{"id":"p3","displayName":{"text":"No Location"}}
		]}`)
	}))
	defer srv.Close()

	c := NewPlacesClient(config.PlacesConfig{APIKey: "secret", BaseURL: srv.URL, Timeout: time.Second,
		MaxResults: 20, BiasRadius: 15000, PhotoMaxPx: 800}, testOptions())

	places := c.SearchText(context.Background(), "Castles, palaces, fortresses, and citadels in Vienna",
		&types.Anchor{Latitude: 48.2, Longitude: 16.37})
	require.Len(t, places, 1)
	p := places[0]
	assert.Equal(t, "p1", p.ID)
	assert.Contains(t, p.PhotoURL, srv.URL+"/places/p1/photos/abc/media?")
	assert.Contains(t, p.PhotoURL, "maxWidthPx=800")
	assert.Equal(t, "yes", p.Tags()["place_type:castle"])
}

func TestPlacesSearchText_DisabledWithoutKey(t *testing.T) {
	c := NewPlacesClient(config.PlacesConfig{BaseURL: "http://127.0.0.1:1"}, testOptions())
	assert.False(t, c.Enabled())
	assert.Nil(t, c.SearchText(context.Background(), "castles", nil))
}

func encyclopediaServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testEncyclopediaConfig(url string) config.EncyclopediaConfig {
	return config.EncyclopediaConfig{BaseURL: url, CommonsURL: url, Timeout: time.Second,
		GeoRadius: 100, ThumbSize: 600, SummaryLength: 400, GalleryResults: 3, GalleryWidth: 800}
}

const hofburgPage = `{"query":{"pages":[{"pageid":1,"title":"Hofburg",
	"extract":"The Hofburg is the former principal imperial palace of the Habsburg dynasty in Vienna.",
	"thumbnail":{"source":"https://upload.example/Hofburg_Vienna.jpg"},
	"coordinates":[{"lat":48.2066,"lon":16.3653}]}]}}`

func TestEncyclopediaLookupByName_Accepts(t *testing.T) {
	srv := encyclopediaServer(t, hofburgPage)
	c := NewEncyclopediaClient(testEncyclopediaConfig(srv.URL), testOptions())

	a := c.LookupByName(context.Background(), "Hofburg", "Vienna", &types.Anchor{Latitude: 48.2067, Longitude: 16.3654})
	require.NotNil(t, a)
	assert.Equal(t, "Hofburg", a.Title)
	assert.Equal(t, "https://upload.example/Hofburg_Vienna.jpg", a.ImageURL)
}

func TestEncyclopediaLookupByName_RejectsDistantArticle(t *testing.T) {
	srv := encyclopediaServer(t, hofburgPage)
	c := NewEncyclopediaClient(testEncyclopediaConfig(srv.URL), testOptions())

	assert.Nil(t, c.LookupByName(context.Background(), "Hofburg", "", &types.Anchor{Latitude: 47.26, Longitude: 11.39}))
}

func TestEncyclopediaLookupByName_RejectsDifferentName(t *testing.T) {
	srv := encyclopediaServer(t, hofburgPage)
	c := NewEncyclopediaClient(testEncyclopediaConfig(srv.URL), testOptions())

	assert.Nil(t, c.LookupByName(context.Background(), "Stephansdom", "", nil))
}

func TestEncyclopediaLookupByPosition_RejectsTransitArticle(t *testing.T) {
	srv := encyclopediaServer(t, `{"query":{"pages":[{"pageid":2,"title":"Schottentor",
		"extract":"Schottentor is a metro station on line U2 of the Vienna U-Bahn in the Innere Stadt district."}]}}`)
	c := NewEncyclopediaClient(testEncyclopediaConfig(srv.URL), testOptions())

	assert.Nil(t, c.LookupByPosition(context.Background(), 48.2146, 16.3622, "Schottentor"))
}

func TestEncyclopediaFullExtract(t *testing.T) {
	srv := encyclopediaServer(t, hofburgPage)
	c := NewEncyclopediaClient(testEncyclopediaConfig(srv.URL), testOptions())

	d := c.FullExtract(context.Background(), "Hofburg")
	require.NotNil(t, d)
	assert.Equal(t, "Hofburg", d.Title)
	assert.Contains(t, d.Extract, "imperial palace")
}

func TestCommonsSearchImages_FiltersMedia(t *testing.T) {
	srv := encyclopediaServer(t, `{"query":{"pages":[
		{"title":"File:Burg Kreuzenstein.jpg","imageinfo":[{"url":"https://up.example/Burg_Kreuzenstein.jpg",
			"thumburl":"https://up.example/800px-Burg_Kreuzenstein.jpg",
			"extmetadata":{"Artist":{"value":"<a href=\"//x\">Jane Doe</a>"},"LicenseShortName":{"value":"CC BY-SA 4.0"}}}]},
		{"title":"File:Burg Kreuzenstein plan.svg","imageinfo":[{"url":"https://up.example/plan.svg"}]},
		{"title":"File:Burg Kreuzenstein map.png","imageinfo":[{"url":"https://up.example/Kreuzenstein_map.png"}]}
	]}}`)
	c := NewCommonsClient(testEncyclopediaConfig(srv.URL), testOptions())

	images := c.SearchImages(context.Background(), "Burg Kreuzenstein")
	require.Len(t, images, 1)
	assert.Equal(t, "https://up.example/800px-Burg_Kreuzenstein.jpg", images[0].URL)
	assert.Equal(t, "Jane Doe", images[0].Author)
	assert.Equal(t, "CC BY-SA 4.0", images[0].License)
}

func TestStreetImageryNearby(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("is_pano"))
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = io.WriteString(w, `{"data":[{"id":"9","thumb_1024_url":"https://img.example/9.jpg"}]}`)
	}))
	defer srv.Close()

	c := NewStreetImageryClient(config.StreetImageryConfig{AccessToken: "tok", BaseURL: srv.URL, Timeout: time.Second, Radius: 30}, testOptions())
	assert.Equal(t, "https://img.example/9.jpg", c.Nearby(context.Background(), 48.2, 16.37))

	disabled := NewStreetImageryClient(config.StreetImageryConfig{BaseURL: srv.URL}, testOptions())
	assert.Empty(t, disabled.Nearby(context.Background(), 48.2, 16.37))
}

func TestImageProxyFetch(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Transport = srv.Client().Transport
	host := strings.TrimPrefix(srv.URL, "https://")
	p := NewImageProxy(time.Second, []string{"127.0.0.1"}, "", opts)

	img, err := p.Fetch(context.Background(), "https://"+host+"/photo.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)

	_, err = p.Fetch(context.Background(), "https://evil.example/photo.png")
	require.ErrorIs(t, err, types.ErrBadRequest)

	_, err = p.Fetch(context.Background(), "http://"+host+"/photo.png")
	require.ErrorIs(t, err, types.ErrBadRequest)
}
