package sources

import (
	"context"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/FACorreiaa/loci-heritage-api/pkg/config"
)

// GalleryImage is a media repository file accepted for display.
type GalleryImage struct {
	URL     string
	Title   string
	Author  string
	License string
}

type CommonsClient struct {
	http *httpClient
	cfg  config.EncyclopediaConfig
}

func NewCommonsClient(cfg config.EncyclopediaConfig, opts Options) *CommonsClient {
	return &CommonsClient{
		http: newHTTPClient("commons", cfg.Timeout, 0, opts),
		cfg:  cfg,
	}
}

type metaValue struct {
	Value string `json:"value"`
}

type commonsResponse struct {
	Query struct {
		Pages []struct {
			Title     string `json:"title"`
			ImageInfo []struct {
				URL         string `json:"url"`
				ThumbURL    string `json:"thumburl"`
				ExtMetadata struct {
					Artist           *metaValue `json:"Artist"`
					LicenseShortName *metaValue `json:"LicenseShortName"`
				} `json:"extmetadata"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

// SearchImages returns file-namespace hits for name that pass the extension
// whitelist and the banned keyword filter.
func (c *CommonsClient) SearchImages(ctx context.Context, name string) []GalleryImage {
	l := c.http.logger.With(slog.String("method", "SearchImages"))
	if strings.TrimSpace(name) == "" {
		return nil
	}

	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("generator", "search")
	q.Set("gsrsearch", name)
	q.Set("gsrnamespace", "6")
	q.Set("gsrlimit", strconv.Itoa(c.cfg.GalleryResults))
	q.Set("prop", "imageinfo")
	q.Set("iiprop", "url|extmetadata")
	q.Set("iiurlwidth", strconv.Itoa(c.cfg.GalleryWidth))

	var resp commonsResponse
	if err := c.http.getJSON(ctx, c.cfg.CommonsURL+"?"+q.Encode(), nil, &resp); err != nil {
		l.DebugContext(ctx, "commons search failed", slog.String("name", name), slog.Any("error", err))
		return nil
	}

	var images []GalleryImage
	for _, p := range resp.Query.Pages {
		if len(p.ImageInfo) == 0 {
			continue
		}
		info := p.ImageInfo[0]
		u := info.ThumbURL
		if u == "" {
			u = info.URL
		}
		if !AllowedImageExtension(u) || InvalidImage(u, p.Title) {
			continue
		}

		img := GalleryImage{URL: u, Title: p.Title}
		if a := info.ExtMetadata.Artist; a != nil {
			img.Author = stripHTML(a.Value)
		}
		if lic := info.ExtMetadata.LicenseShortName; lic != nil {
			img.License = stripHTML(lic.Value)
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		c.http.empty()
	}
	return images
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}
