package origin

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/pixveil/pixveil/mod/imagecache"
)

const (
	// DefaultTimeout bounds a single origin fetch so a hung origin can
	// never hang the miss path
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBytes caps a fetched payload (default 20MB)
	DefaultMaxBytes = 20 * 1024 * 1024
)

// Image is a fetched source image
type Image struct {
	Payload     []byte
	ContentType string
}

// Fetcher retrieves source images from the origin storage/CDN
type Fetcher struct {
	client   *http.Client
	baseURL  *url.URL
	timeout  time.Duration
	maxBytes int64
}

// Config holds fetcher configuration
type Config struct {
	// BaseURL is the origin root all request paths resolve against
	BaseURL string

	// Timeout bounds a single fetch (default DefaultTimeout)
	Timeout time.Duration

	// MaxBytes caps a fetched payload (default DefaultMaxBytes)
	MaxBytes int64
}

// NewFetcher creates an origin fetcher
func NewFetcher(cfg Config) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid origin base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				// Content-Encoding is negotiated and decoded by hand
				// below so brotli responses are covered too
				DisableCompression: true,
			},
		},
		baseURL:  base,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
	}, nil
}

// Fetch retrieves the source image for an origin id. All transport-level
// failures, timeouts and non-2xx statuses map to ErrOriginUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, originID string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := f.baseURL.JoinPath(strings.Split(originID, "/")...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imagecache.ErrOriginUnavailable, err)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imagecache.ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: origin returned status %d", imagecache.ErrOriginUnavailable, resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imagecache.ErrOriginUnavailable, err)
	}

	payload, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if c, ok := body.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imagecache.ErrOriginUnavailable, err)
	}
	if int64(len(payload)) > f.maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", imagecache.ErrOriginUnavailable, f.maxBytes)
	}

	return &Image{
		Payload:     payload,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// decodeBody unwraps the negotiated content encoding
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
