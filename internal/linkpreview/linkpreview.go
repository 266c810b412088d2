// Package linkpreview fetches a small preview for links fans put in their
// messages, so moderators and recipients see where a link goes before
// opening it.
package linkpreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmerrifield20/fangate/internal/store"
	"go.uber.org/zap"
)

// Kind tags which variant a Preview holds.
type Kind string

const (
	KindPage         Kind = "page"
	KindImage        Kind = "image"
	KindUnrecognized Kind = "unrecognized"
)

// Preview is a tagged variant: exactly the field matching Kind is set.
type Preview struct {
	Kind  Kind   `json:"kind"`
	URL   string `json:"url"`
	Page  *Page  `json:"page,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Page describes an HTML document.
type Page struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Image describes a direct image link.
type Image struct {
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length,omitempty"`
}

// ErrInvalidURL is returned for URLs that cannot be previewed.
var ErrInvalidURL = errors.New("linkpreview: invalid url")

// Config tunes the fetcher.
type Config struct {
	Timeout   time.Duration // per fetch; default 3s
	MaxBytes  int64         // body bytes read; default 512 KiB
	CacheTTL  time.Duration // default 1h
	// FailureTTL caches the unrecognized result of a failed fetch (network
	// error, non-2xx, unparsable body); default 1m.
	FailureTTL time.Duration
	UserAgent  string
	// AllowPrivate permits fetching loopback and private addresses.
	AllowPrivate bool
}

// Fetcher builds previews.
type Fetcher struct {
	http   *http.Client
	cfg    Config
	cache  store.Store
	logger *zap.Logger
}

// New creates a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 << 10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = time.Minute
	}
	if cfg.FailureTTL > cfg.CacheTTL {
		cfg.FailureTTL = cfg.CacheTTL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fangate-linkpreview/1.0"
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if !cfg.AllowPrivate {
		dialer.Control = refusePrivate
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
	}
	return &Fetcher{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		cfg:    cfg,
		logger: logger,
	}
}

// SetCache enables caching previews in s.
func (f *Fetcher) SetCache(s store.Store) {
	f.cache = s
}

// Preview returns the preview for rawURL. Only malformed or non-HTTP URLs
// are errors; anything that cannot be fetched or understood yields an
// unrecognized preview.
func (f *Fetcher) Preview(ctx context.Context, rawURL string) (Preview, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return Preview{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	u.Fragment = ""
	target := u.String()

	if p, ok := f.cached(ctx, target); ok {
		return p, nil
	}

	p, ok := f.fetch(ctx, u)
	ttl := f.cfg.CacheTTL
	if !ok {
		ttl = f.cfg.FailureTTL
	}
	f.store(ctx, p, ttl)
	return p, nil
}

// fetch reports ok=false when the origin could not be read, as opposed to
// serving something that is not previewable.
func (f *Fetcher) fetch(ctx context.Context, u *url.URL) (Preview, bool) {
	fallback := Preview{Kind: KindUnrecognized, URL: u.String()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fallback, false
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/*;q=0.8")

	resp, err := f.http.Do(req)
	if err != nil {
		f.logger.Debug("linkpreview: fetch failed", zap.String("url", u.String()), zap.Error(err))
		return fallback, false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fallback, false
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page, err := parsePage(io.LimitReader(resp.Body, f.cfg.MaxBytes), resp.Request.URL)
		if err != nil {
			return fallback, false
		}
		return Preview{Kind: KindPage, URL: u.String(), Page: page}, true
	case strings.HasPrefix(mediaType, "image/"):
		return Preview{Kind: KindImage, URL: u.String(), Image: &Image{
			ContentType:   mediaType,
			ContentLength: resp.ContentLength,
		}}, true
	}
	return fallback, true
}

func parsePage(r io.Reader, base *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	meta := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	p := &Page{
		Title:       meta(`meta[property="og:title"]`, `meta[name="twitter:title"]`),
		Description: meta(`meta[property="og:description"]`, `meta[name="description"]`),
		SiteName:    meta(`meta[property="og:site_name"]`),
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if img := meta(`meta[property="og:image"]`, `meta[name="twitter:image"]`); img != "" {
		if ref, err := url.Parse(img); err == nil {
			p.ImageURL = base.ResolveReference(ref).String()
		}
	}
	p.Title = truncate(p.Title, 200)
	p.Description = truncate(p.Description, 500)
	return p, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func cacheKey(u string) string {
	return "linkpreview:" + u
}

func (f *Fetcher) cached(ctx context.Context, u string) (Preview, bool) {
	if f.cache == nil {
		return Preview{}, false
	}
	raw, err := f.cache.Get(ctx, cacheKey(u))
	if err != nil {
		return Preview{}, false
	}
	var p Preview
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Preview{}, false
	}
	return p, true
}

func (f *Fetcher) store(ctx context.Context, p Preview, ttl time.Duration) {
	if f.cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, cacheKey(p.URL), string(raw), ttl); err != nil {
		f.logger.Debug("linkpreview: cache write failed", zap.Error(err))
	}
}

// refusePrivate is a net.Dialer Control hook rejecting connections to
// loopback, private, link-local and unspecified addresses.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("linkpreview: unresolved address %q", host)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("linkpreview: refusing to connect to %s", ip)
	}
	return nil
}
