package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/FACorreiaa/loci-heritage-api/internal/geo"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

// maxNameMatchDistance bounds how far a by-name article with coordinates may
// sit from the record it is meant to describe.
const maxNameMatchDistance = 40000.0

// Article is an accepted encyclopedia match.
type Article struct {
	Title    string
	Summary  string
	ImageURL string
}

type EncyclopediaClient struct {
	http *httpClient
	cfg  config.EncyclopediaConfig
}

func NewEncyclopediaClient(cfg config.EncyclopediaConfig, opts Options) *EncyclopediaClient {
	return &EncyclopediaClient{
		http: newHTTPClient("encyclopedia", cfg.Timeout, 0, opts),
		cfg:  cfg,
	}
}

type wikiPage struct {
	PageID    int64  `json:"pageid"`
	Title     string `json:"title"`
	Missing   bool   `json:"missing"`
	Extract   string `json:"extract"`
	Thumbnail *struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	Coordinates []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coordinates"`
}

type wikiQueryResponse struct {
	Query struct {
		Pages []wikiPage `json:"pages"`
	} `json:"query"`
}

func (c *EncyclopediaClient) baseParams() url.Values {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "extracts|pageimages|coordinates")
	q.Set("exintro", "1")
	q.Set("explaintext", "1")
	q.Set("pithumbsize", strconv.Itoa(c.cfg.ThumbSize))
	return q
}

func (c *EncyclopediaClient) firstPage(ctx context.Context, q url.Values) (*wikiPage, error) {
	var resp wikiQueryResponse
	if err := c.http.getJSON(ctx, c.cfg.BaseURL+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Query.Pages {
		p := &resp.Query.Pages[i]
		if !p.Missing && p.Title != "" {
			return p, nil
		}
	}
	return nil, nil
}

// LookupByName searches by free text. near, when given, rejects articles
// whose own coordinates are far from the record.
func (c *EncyclopediaClient) LookupByName(ctx context.Context, name, hint string, near *types.Anchor) *Article {
	l := c.http.logger.With(slog.String("method", "LookupByName"))
	query := searchQuery(name, hint)
	if query == "" {
		return nil
	}

	q := c.baseParams()
	q.Set("generator", "search")
	q.Set("gsrsearch", query)
	q.Set("gsrlimit", "1")

	page, err := c.firstPage(ctx, q)
	if err != nil {
		l.DebugContext(ctx, "encyclopedia search failed", slog.String("name", name), slog.Any("error", err))
		return nil
	}
	if page == nil {
		c.http.empty()
		return nil
	}
	if near != nil && len(page.Coordinates) > 0 {
		d := geo.DistanceMeters(near.Latitude, near.Longitude, page.Coordinates[0].Lat, page.Coordinates[0].Lon)
		if d > maxNameMatchDistance {
			l.DebugContext(ctx, "encyclopedia match too far away", slog.String("title", page.Title), slog.Float64("meters", d))
			return nil
		}
	}
	return c.accept(ctx, page, name)
}

// LookupByPosition returns the nearest article within the configured radius
// that passes the same validation as LookupByName.
func (c *EncyclopediaClient) LookupByPosition(ctx context.Context, lat, lon float64, name string) *Article {
	l := c.http.logger.With(slog.String("method", "LookupByPosition"))
	if !types.ValidPosition(lat, lon) {
		return nil
	}

	q := c.baseParams()
	q.Set("generator", "geosearch")
	q.Set("ggscoord", fmt.Sprintf("%f|%f", lat, lon))
	q.Set("ggsradius", strconv.Itoa(c.cfg.GeoRadius))
	q.Set("ggslimit", "1")

	page, err := c.firstPage(ctx, q)
	if err != nil {
		l.DebugContext(ctx, "encyclopedia geosearch failed", slog.Any("error", err))
		return nil
	}
	if page == nil {
		c.http.empty()
		return nil
	}
	return c.accept(ctx, page, name)
}

// FullExtract returns the complete introduction of an article for "read more" views.
func (c *EncyclopediaClient) FullExtract(ctx context.Context, title string) *types.WikiDetails {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "extracts|pageimages")
	q.Set("exintro", "1")
	q.Set("explaintext", "1")
	q.Set("redirects", "1")
	q.Set("pithumbsize", strconv.Itoa(c.cfg.ThumbSize))
	q.Set("titles", title)

	page, err := c.firstPage(ctx, q)
	if err != nil {
		c.http.logger.DebugContext(ctx, "encyclopedia extract failed", slog.String("title", title), slog.Any("error", err))
		return nil
	}
	if page == nil || page.Extract == "" {
		return nil
	}

	d := &types.WikiDetails{Title: page.Title, Extract: page.Extract}
	if page.Thumbnail != nil {
		d.Image = page.Thumbnail.Source
	}
	return d
}

func (c *EncyclopediaClient) accept(ctx context.Context, page *wikiPage, name string) *Article {
	l := c.http.logger.With(slog.String("title", page.Title))

	if name != "" && !NamesSimilar(page.Title, name) {
		l.DebugContext(ctx, "encyclopedia match rejected: names differ", slog.String("name", name))
		return nil
	}
	if InvalidContext(page.Extract) {
		l.DebugContext(ctx, "encyclopedia match rejected: invalid context")
		return nil
	}
	if TransportContext(page.Title + " " + page.Extract) {
		l.DebugContext(ctx, "encyclopedia match rejected: transit article")
		return nil
	}

	a := &Article{
		Title:   page.Title,
		Summary: textnorm.Truncate(page.Extract, c.cfg.SummaryLength),
	}
	if page.Thumbnail != nil && !InvalidImage(page.Thumbnail.Source, page.Title) {
		a.ImageURL = page.Thumbnail.Source
	}
	return a
}

var leadingArticles = []string{"the ", "el ", "la ", "los ", "las ", "le ", "les ", "der ", "die ", "das "}

// searchQuery drops a leading article and appends the area hint so short
// names such as "La Torre" resolve to the right place.
func searchQuery(name, hint string) string {
	clean := textnorm.Fold(name)
	for _, art := range leadingArticles {
		if len(clean) > len(art) && clean[:len(art)] == art {
			clean = clean[len(art):]
			break
		}
	}
	if clean == "" {
		return ""
	}
	if hint != "" {
		clean += " " + hint
	}
	return clean
}
