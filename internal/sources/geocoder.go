package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/loci-heritage-api/internal/cache"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

// GeocodeResult is a forward geocoding hit.
type GeocodeResult struct {
	DisplayName string             `json:"display_name"`
	Class       string             `json:"class"`
	Type        string             `json:"type"`
	AddressType string             `json:"addresstype"`
	Latitude    float64            `json:"lat"`
	Longitude   float64            `json:"lon"`
	Box         *types.BoundingBox `json:"box,omitempty"`
}

type Geocoder struct {
	http    *httpClient
	baseURL string
	store   cache.Store
	ttl     time.Duration
}

func NewGeocoder(cfg config.GeocoderConfig, store cache.Store, ttl time.Duration, opts Options) *Geocoder {
	return &Geocoder{
		http:    newHTTPClient("geocoder", cfg.Timeout, cfg.RatePerSec, opts),
		baseURL: cfg.BaseURL,
		store:   store,
		ttl:     ttl,
	}
}

type nominatimPlace struct {
	DisplayName string   `json:"display_name"`
	Class       string   `json:"class"`
	Type        string   `json:"type"`
	AddressType string   `json:"addresstype"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"`
}

type nominatimReverse struct {
	Address map[string]string `json:"address"`
}

var reverseLabelKeys = []string{"neighbourhood", "suburb", "city", "town", "village", "municipality"}

// Search resolves a free-text place name. It returns nil when nothing was
// found or the geocoder is unavailable.
func (g *Geocoder) Search(ctx context.Context, name string) *GeocodeResult {
	key := "geocode:search:" + textnorm.Fold(name)
	if key == "geocode:search:" {
		return nil
	}

	var cached GeocodeResult
	if g.fromCache(ctx, key, &cached) {
		if cached.DisplayName == "" {
			return nil
		}
		return &cached
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")
	q.Set("accept-language", "en")

	var places []nominatimPlace
	if err := g.http.getJSON(ctx, g.baseURL+"/search?"+q.Encode(), nil, &places); err != nil {
		g.http.logger.WarnContext(ctx, "geocoder search failed", slog.String("name", name), slog.Any("error", err))
		return nil
	}

	var result GeocodeResult
	if len(places) > 0 {
		if r, err := places[0].toResult(); err == nil {
			result = r
		}
	}
	g.toCache(ctx, key, result)

	if result.DisplayName == "" {
		g.http.empty()
		return nil
	}
	return &result
}

// Reverse returns a human readable label for the area around a position, or
// an empty string when none is known.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) string {
	key := fmt.Sprintf("geocode:reverse:%.3f:%.3f", lat, lon)

	var cached string
	if g.fromCache(ctx, key, &cached) {
		return cached
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "12")
	q.Set("addressdetails", "1")

	var resp nominatimReverse
	if err := g.http.getJSON(ctx, g.baseURL+"/reverse?"+q.Encode(), nil, &resp); err != nil {
		g.http.logger.WarnContext(ctx, "geocoder reverse failed", slog.Any("error", err))
		return ""
	}

	label := ""
	for _, k := range reverseLabelKeys {
		if v := resp.Address[k]; v != "" {
			label = v
			break
		}
	}
	g.toCache(ctx, key, label)
	return label
}

func (g *Geocoder) fromCache(ctx context.Context, key string, out any) bool {
	if g.store == nil {
		return false
	}
	b, err := g.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			g.http.logger.DebugContext(ctx, "geocode cache read failed", slog.Any("error", err))
		}
		observability.GeocodeCache.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		observability.GeocodeCache.WithLabelValues("miss").Inc()
		return false
	}
	observability.GeocodeCache.WithLabelValues("hit").Inc()
	return true
}

func (g *Geocoder) toCache(ctx context.Context, key string, v any) {
	if g.store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := g.store.Set(ctx, key, b, g.ttl); err != nil {
		g.http.logger.DebugContext(ctx, "geocode cache write failed", slog.Any("error", err))
	}
}

func (p nominatimPlace) toResult() (GeocodeResult, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("parse lat: %w", err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("parse lon: %w", err)
	}

	r := GeocodeResult{
		DisplayName: p.DisplayName,
		Class:       p.Class,
		Type:        p.Type,
		AddressType: p.AddressType,
		Latitude:    lat,
		Longitude:   lon,
	}

	// Nominatim orders the box as [south, north, west, east].
	if len(p.BoundingBox) == 4 {
		var v [4]float64
		ok := true
		for i, s := range p.BoundingBox {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		box := types.BoundingBox{South: v[0], North: v[1], West: v[2], East: v[3]}
		if ok && box.Valid() {
			r.Box = &box
		}
	}
	return r, nil
}
