package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

// DefaultProxyHosts are the image hosts the connectors hand out URLs for.
var DefaultProxyHosts = []string{
	"upload.wikimedia.org",
	"places.googleapis.com",
	"fbcdn.net",
	"mapillary.com",
}

// Image is a fetched remote image.
type Image struct {
	ContentType string
	Body        []byte
}

// ImageProxy fetches images on behalf of clients so that API keys embedded
// in photo URLs never leave the server.
type ImageProxy struct {
	http  *httpClient
	hosts []string
	key   string
}

func NewImageProxy(timeout time.Duration, hosts []string, placesKey string, opts Options) *ImageProxy {
	return &ImageProxy{
		http:  newHTTPClient("image_proxy", timeout, 0, opts),
		hosts: hosts,
		key:   placesKey,
	}
}

func (p *ImageProxy) allowed(host string) bool {
	host = strings.ToLower(host)
	for _, h := range p.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch downloads raw. Hosts outside the allow list and non-image payloads
// are rejected with types.ErrBadRequest.
func (p *ImageProxy) Fetch(ctx context.Context, raw string) (*Image, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !p.allowed(u.Hostname()) {
		return nil, fmt.Errorf("image url %q not allowed: %w", raw, types.ErrBadRequest)
	}
	if p.key != "" && strings.HasSuffix(u.Hostname(), "googleapis.com") && u.Query().Get("key") == "" {
		q := u.Query()
		q.Set("key", p.key)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	body, err := p.http.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", types.ErrUnavailable)
	}

	ct := http.DetectContentType(body)
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("remote payload is %s: %w", ct, types.ErrBadRequest)
	}
	return &Image{ContentType: ct, Body: body}, nil
}
