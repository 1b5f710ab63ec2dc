package lazy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// fetcher downloads and decodes images for the preload path. Decoding is
// what makes a warm entry trustworthy: bytes that do not decode are not an
// image and are not cached.
type fetcher struct {
	client    *http.Client
	userAgent string
	log       *log.Entry
}

func newFetcher(cfg Config) *fetcher {
	cfg = cfg.withDefaults()
	return &fetcher{
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		userAgent: cfg.UserAgent,
		log:       log.WithField("component", "fetch"),
	}
}

// fetchImage GETs url, handles gzip/deflate bodies, and decodes the result.
// It returns the encoded bytes and the intrinsic dimensions.
func (f *fetcher) fetchImage(ctx context.Context, url string) ([]byte, int, int, error) {
	if !fetchable(url) {
		return nil, 0, 0, fmt.Errorf("unsupported url %q", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, 0, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	var rc io.ReadCloser = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, e := gzip.NewReader(resp.Body); e == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		if zr, e := zlib.NewReader(resp.Body); e == nil {
			rc = zr
			defer zr.Close()
		} else if fr := flate.NewReader(resp.Body); fr != nil {
			rc = io.NopCloser(fr)
			defer fr.Close()
		}
	}

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return nil, 0, 0, fmt.Errorf("fetch %s: empty body", url)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode (ct=%s): %w", resp.Header.Get("Content-Type"), err)
	}
	b := img.Bounds()
	return raw, b.Dx(), b.Dy(), nil
}
