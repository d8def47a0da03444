package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

type StreetImageryClient struct {
	http *httpClient
	cfg  config.StreetImageryConfig
}

func NewStreetImageryClient(cfg config.StreetImageryConfig, opts Options) *StreetImageryClient {
	return &StreetImageryClient{
		http: newHTTPClient("street_imagery", cfg.Timeout, 0, opts),
		cfg:  cfg,
	}
}

type streetImageryResponse struct {
	Data []struct {
		ID       string `json:"id"`
		ThumbURL string `json:"thumb_1024_url"`
	} `json:"data"`
}

// Nearby returns one non-panoramic photo close to the position, or "".
func (c *StreetImageryClient) Nearby(ctx context.Context, lat, lon float64) string {
	if c.cfg.AccessToken == "" || !types.ValidPosition(lat, lon) {
		return ""
	}

	q := url.Values{}
	q.Set("access_token", c.cfg.AccessToken)
	q.Set("fields", "id,thumb_1024_url")
	q.Set("is_pano", "false")
	q.Set("closeto", fmt.Sprintf("%f,%f", lon, lat))
	q.Set("radius", strconv.Itoa(c.cfg.Radius))
	q.Set("limit", "1")

	var resp streetImageryResponse
	if err := c.http.getJSON(ctx, c.cfg.BaseURL+"/images?"+q.Encode(), nil, &resp); err != nil {
		c.http.logger.DebugContext(ctx, "street imagery lookup failed", slog.Any("error", err))
		return ""
	}
	for _, d := range resp.Data {
		if d.ThumbURL != "" {
			return d.ThumbURL
		}
	}
	c.http.empty()
	return ""
}
