package textrisk

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Blocklist reports which of the given domains are listed.
type Blocklist interface {
	Listed(ctx context.Context, domains []string) []string
}

var domainPattern = regexp.MustCompile(`(?i)(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}\b`)

// ExtractDomains returns the distinct lowercase host names mentioned in
// content, with any leading "www." removed.
func ExtractDomains(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range domainPattern.FindAllString(content, -1) {
		d := strings.TrimPrefix(strings.ToLower(m), "www.")
		if !strings.Contains(d, ".") || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// ── Static list ──────────────────────────────────────────────────────────────

// StaticBlocklist lists fixed domains and all of their subdomains.
type StaticBlocklist struct {
	domains map[string]struct{}
}

// NewStaticBlocklist builds a StaticBlocklist from domains.
func NewStaticBlocklist(domains []string) *StaticBlocklist {
	b := &StaticBlocklist{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			b.domains[d] = struct{}{}
		}
	}
	return b
}

// Listed implements Blocklist.
func (b *StaticBlocklist) Listed(_ context.Context, domains []string) []string {
	var hits []string
	for _, d := range domains {
		for h := d; h != ""; {
			if _, ok := b.domains[h]; ok {
				hits = append(hits, d)
				break
			}
			i := strings.IndexByte(h, '.')
			if i < 0 {
				break
			}
			h = h[i+1:]
		}
	}
	return hits
}

// ── DNS blocklist ────────────────────────────────────────────────────────────

const (
	// dnsblMaxDomains caps the lookups made for one message; later domains
	// are not checked.
	dnsblMaxDomains = 10
	dnsblParallel   = 4
)

// LookupFunc resolves host to addresses, like (*net.Resolver).LookupHost.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// DNSBL queries a domain blocklist zone (Spamhaus DBL, SURBL and similar):
// a domain is listed when <domain>.<zone> resolves to a 127.0.0.0/8
// address. Lookups that fail or time out count as not listed.
type DNSBL struct {
	zone    string
	lookup  LookupFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewDNSBL creates a DNSBL client for zone. timeout bounds a whole Listed
// call, not each lookup.
func NewDNSBL(zone string, timeout time.Duration, logger *zap.Logger) *DNSBL {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &DNSBL{
		zone:    strings.Trim(zone, "."),
		lookup:  (&net.Resolver{}).LookupHost,
		timeout: timeout,
		logger:  logger,
	}
}

// SetLookup replaces the resolver.
func (b *DNSBL) SetLookup(fn LookupFunc) {
	b.lookup = fn
}

// Listed implements Blocklist. At most dnsblMaxDomains domains are looked
// up, dnsblParallel at a time, and the call returns within the timeout.
func (b *DNSBL) Listed(ctx context.Context, domains []string) []string {
	if len(domains) > dnsblMaxDomains {
		b.logger.Debug("dnsbl: too many domains, checking the first few",
			zap.Int("domains", len(domains)), zap.Int("checked", dnsblMaxDomains))
		domains = domains[:dnsblMaxDomains]
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	listed := make([]bool, len(domains))
	var g errgroup.Group
	g.SetLimit(dnsblParallel)
	for i, d := range domains {
		g.Go(func() error {
			listed[i] = b.listed(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var hits []string
	for i, d := range domains {
		if listed[i] {
			hits = append(hits, d)
		}
	}
	return hits
}

func (b *DNSBL) listed(ctx context.Context, domain string) bool {
	if ctx.Err() != nil {
		return false
	}
	host := domain + "." + b.zone
	addrs, err := b.lookup(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
			b.logger.Debug("dnsbl lookup failed", zap.String("host", host), zap.Error(err))
		}
		return false
	}
	for _, a := range addrs {
		// 127.255.255.x are error/quota responses, not listings.
		if strings.HasPrefix(a, "127.") && !strings.HasPrefix(a, "127.255.255.") {
			return true
		}
	}
	return false
}

// ── Combined ─────────────────────────────────────────────────────────────────

// MultiBlocklist reports the union of several blocklists.
type MultiBlocklist []Blocklist

// Listed implements Blocklist.
func (m MultiBlocklist) Listed(ctx context.Context, domains []string) []string {
	seen := make(map[string]bool)
	var hits []string
	for _, b := range m {
		for _, d := range b.Listed(ctx, domains) {
			if !seen[d] {
				seen[d] = true
				hits = append(hits, d)
			}
		}
	}
	return hits
}
