package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FACorreiaa/loci-heritage-api/internal/domain/category"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

const placesFieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.photos,places.editorialSummary,places.types"

// Place is a decoded Places API search hit.
type Place struct {
	ID        string
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
	PhotoURL  string
	Summary   string
	Types     []string
}

// Tags exposes the place types in the shared tag vocabulary of the classifier.
func (p Place) Tags() map[string]string {
	tags := make(map[string]string, len(p.Types))
	for _, t := range p.Types {
		tags[category.PlaceTypeKey+t] = "yes"
	}
	return tags
}

type PlacesClient struct {
	http *httpClient
	cfg  config.PlacesConfig
}

func NewPlacesClient(cfg config.PlacesConfig, opts Options) *PlacesClient {
	return &PlacesClient{
		http: newHTTPClient("places", cfg.Timeout, cfg.RatePerSec, opts),
		cfg:  cfg,
	}
}

func (c *PlacesClient) Enabled() bool {
	return c != nil && c.cfg.Enabled()
}

type placesRequest struct {
	TextQuery      string        `json:"textQuery"`
	MaxResultCount int           `json:"maxResultCount,omitempty"`
	LocationBias   *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type localizedText struct {
	Text string `json:"text"`
}

type placesResponse struct {
	Places []struct {
		ID               string         `json:"id"`
		DisplayName      localizedText  `json:"displayName"`
		FormattedAddress string         `json:"formattedAddress"`
		Location         *latLng        `json:"location"`
		EditorialSummary *localizedText `json:"editorialSummary"`
		Types            []string       `json:"types"`
		Photos           []struct {
			Name string `json:"name"`
		} `json:"photos"`
	} `json:"places"`
}

// SearchText runs a text search, optionally biased towards a circle around
// bias. Failures yield an empty result.
func (c *PlacesClient) SearchText(ctx context.Context, query string, bias *types.Anchor) []Place {
	if !c.Enabled() || strings.TrimSpace(query) == "" {
		return nil
	}
	l := c.http.logger.With(slog.String("method", "SearchText"))

	payload := placesRequest{TextQuery: query, MaxResultCount: c.cfg.MaxResults}
	if bias != nil {
		payload.LocationBias = &locationBias{Circle: circle{
			Center: latLng{Latitude: bias.Latitude, Longitude: bias.Longitude},
			Radius: c.cfg.BiasRadius,
		}}
	}

	var resp placesResponse
	err := c.http.postJSON(ctx, c.cfg.BaseURL+"/places:searchText", map[string]string{
		"X-Goog-Api-Key":   c.cfg.APIKey,
		"X-Goog-FieldMask": placesFieldMask,
	}, payload, &resp)
	if err != nil {
		l.WarnContext(ctx, "places search failed", slog.String("query", query), slog.Any("error", err))
		return nil
	}

	places := make([]Place, 0, len(resp.Places))
	for _, p := range resp.Places {
		if p.Location == nil || p.DisplayName.Text == "" || !types.ValidPosition(p.Location.Latitude, p.Location.Longitude) {
			continue
		}
		place := Place{
			ID:        p.ID,
			Name:      p.DisplayName.Text,
			Address:   p.FormattedAddress,
			Latitude:  p.Location.Latitude,
			Longitude: p.Location.Longitude,
			Types:     p.Types,
		}
		if p.EditorialSummary != nil {
			place.Summary = p.EditorialSummary.Text
		}
		if len(p.Photos) > 0 && p.Photos[0].Name != "" {
			place.PhotoURL = c.photoURL(p.Photos[0].Name)
		}
		places = append(places, place)
	}
	if len(places) == 0 {
		c.http.empty()
	}

	l.DebugContext(ctx, "places search completed", slog.String("query", query), slog.Int("count", len(places)))
	return places
}

// photoURL renders the media endpoint without the API key; ImageProxy adds
// it when the image is fetched.
func (c *PlacesClient) photoURL(name string) string {
	q := url.Values{}
	q.Set("maxHeightPx", fmt.Sprint(c.cfg.PhotoMaxPx))
	q.Set("maxWidthPx", fmt.Sprint(c.cfg.PhotoMaxPx))
	return fmt.Sprintf("%s/%s/media?%s", c.cfg.BaseURL, name, q.Encode())
}
