package sources

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

// Element is a tagged node, way or relation. Ways and relations carry their
// centroid in Center because queries ask for "out center".
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

// Position returns the node position or the way/relation centroid.
func (e Element) Position() (lat, lon float64, ok bool) {
	switch {
	case e.Center != nil:
		lat, lon = e.Center.Lat, e.Center.Lon
	case e.Lat != 0 || e.Lon != 0:
		lat, lon = e.Lat, e.Lon
	default:
		return 0, 0, false
	}
	return lat, lon, types.ValidPosition(lat, lon)
}

type overpassResponse struct {
	Elements []Element `json:"elements"`
}

type OverpassClient struct {
	mirrors      []*httpClient
	urls         []string
	queryTimeout int
	logger       *slog.Logger
	shuffle      func(n int, swap func(i, j int))
}

func NewOverpassClient(cfg config.OverpassConfig, opts Options) *OverpassClient {
	c := &OverpassClient{
		queryTimeout: cfg.QueryTimeout,
		logger:       opts.Logger,
		shuffle:      rand.Shuffle,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	for _, m := range cfg.Mirrors {
		host := m
		if u, err := url.Parse(m); err == nil && u.Host != "" {
			host = u.Host
		}
		c.mirrors = append(c.mirrors, newHTTPClient("overpass:"+host, cfg.Timeout, 0, opts))
		c.urls = append(c.urls, m)
	}
	return c
}

// BuildQuery renders the area query for historic, tourism and landmark features.
func BuildQuery(box types.BoundingBox, timeoutSec int) string {
	b := fmt.Sprintf("%f,%f,%f,%f", box.South, box.West, box.North, box.East)
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n(\n", timeoutSec)
	for _, key := range []string{"historic", "tourism", "landmark"} {
		fmt.Fprintf(&sb, "  nwr[\"%s\"](%s);\n", key, b)
	}
	sb.WriteString(");\nout center;\n")
	return sb.String()
}

// Search tries the mirrors in random order and returns the first successful
// answer. When every mirror fails the result is empty.
func (c *OverpassClient) Search(ctx context.Context, box types.BoundingBox) []Element {
	l := c.logger.With(slog.String("method", "Search"))
	if len(c.mirrors) == 0 || !box.Valid() {
		return nil
	}

	form := url.Values{"data": {BuildQuery(box, c.queryTimeout)}}.Encode()

	order := make([]int, len(c.mirrors))
	for i := range order {
		order[i] = i
	}
	c.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, i := range order {
		if ctx.Err() != nil {
			break
		}
		mirror := c.mirrors[i]

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls[i], strings.NewReader(form))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		body, err := mirror.do(ctx, req)
		if err != nil {
			l.WarnContext(ctx, "overpass mirror failed", slog.String("mirror", c.urls[i]), slog.Any("error", err))
			continue
		}

		var resp overpassResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			l.WarnContext(ctx, "overpass mirror returned malformed payload", slog.String("mirror", c.urls[i]), slog.Any("error", err))
			continue
		}
		if resp.Elements == nil {
			continue
		}

		l.InfoContext(ctx, "overpass search completed",
			slog.String("mirror", c.urls[i]),
			slog.Int("elements", len(resp.Elements)))
		if len(resp.Elements) == 0 {
			mirror.empty()
		}
		return resp.Elements
	}

	l.WarnContext(ctx, "all overpass mirrors failed")
	return nil
}
