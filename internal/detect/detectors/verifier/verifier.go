// Package verifier implements an optional Verifier-category plug-in
// detector: forward-confirmed reverse DNS (the claimed crawler's
// reverse-DNS name must belong to a known verified-crawler domain, and
// a forward lookup of that name must resolve back to the requesting
// IP). It is never part of the required pipeline — a DetectionPolicy
// must name it explicitly in a wave to opt in, keeping the core
// mechanism-agnostic about how "verified" is established (spec §9).
package verifier

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
)

// defaultSuffixes maps reverse-DNS suffixes to the crawler brand they
// verify, e.g. "googlebot.com" -> "Googlebot". A caller composing a
// policy can replace this table via WithSuffixes.
var defaultSuffixes = map[string]string{
	"googlebot.com":    "Googlebot",
	"search.msn.com":   "Bingbot",
	"crawl.yahoo.net":  "Yahoo Slurp",
	"applebot.apple.com": "Applebot",
}

// Resolver abstracts the subset of net.Resolver / dnscache.Resolver
// this detector needs, so tests can substitute a fake.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Detector is the optional reverse-DNS-verified crawler plug-in.
type Detector struct {
	resolver Resolver
	suffixes map[string]string
}

// New returns a verifier Detector backed by an rs/dnscache resolver
// with the given refresh interval, which amortizes repeated lookups
// from the same crawler IP ranges the way the reference platform
// amortizes its own cached lookups.
func New(refresh time.Duration) *Detector {
	cache := &dnscache.Resolver{}
	go refreshLoop(cache, refresh)
	return &Detector{resolver: dnscacheAdapter{cache}, suffixes: defaultSuffixes}
}

func refreshLoop(cache *dnscache.Resolver, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		cache.Refresh(true)
	}
}

// WithSuffixes overrides the known verified-crawler suffix table.
func (d *Detector) WithSuffixes(suffixes map[string]string) *Detector {
	d.suffixes = suffixes
	return d
}

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "verifier.reverse-dns",
		Category:    blackboard.CategoryVerifier,
		Wave:        1,
		Description: "Optional plug-in: forward-confirmed reverse DNS verification of known crawler brands.",
	}
}

func (d *Detector) Evaluate(ctx context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	addr := bb.Features.RemoteAddr
	if addr == "" {
		return blackboard.Contribution{Reason: "no remote address to verify"}, nil
	}

	names, err := d.resolver.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		return blackboard.Contribution{Reason: "reverse DNS lookup failed or returned nothing"}, nil
	}

	for _, name := range names {
		brand, suffix, ok := d.matchSuffix(name)
		if !ok {
			continue
		}

		hosts, err := d.resolver.LookupHost(ctx, name)
		if err != nil {
			continue
		}
		for _, h := range hosts {
			if h == addr {
				bb.Signals.Set("verifiedbot.confirmed", blackboard.BoolSignal(true))
				bb.Signals.Set("verifiedbot.spoofed", blackboard.BoolSignal(false))
				return blackboard.Contribution{
					ConfidenceDelta:  -0.9,
					Weight:           1.0,
					Reason:           "forward-confirmed reverse DNS match for " + suffix,
					SuggestedBotType: "SearchEngine",
					SuggestedBotName: brand,
				}, nil
			}
		}

		// Reverse DNS claimed a verified-crawler brand but the forward
		// lookup didn't resolve back to the requesting IP: a spoofed
		// User-Agent/reverse-DNS combination, not a confirmed crawler.
		bb.Signals.Set("verifiedbot.confirmed", blackboard.BoolSignal(false))
		bb.Signals.Set("verifiedbot.spoofed", blackboard.BoolSignal(true))
		return blackboard.Contribution{
			Reason: "reverse DNS claimed " + suffix + " but forward lookup didn't confirm",
		}, nil
	}

	return blackboard.Contribution{Reason: "no forward-confirmed verified crawler match"}, nil
}

func (d *Detector) matchSuffix(name string) (brand, suffix string, ok bool) {
	trimmed := strings.TrimSuffix(strings.ToLower(name), ".")
	for s, brand := range d.suffixes {
		if strings.HasSuffix(trimmed, s) {
			return brand, s, true
		}
	}
	return "", "", false
}

// dnscacheAdapter adapts *dnscache.Resolver to the Resolver interface;
// dnscache only caches forward lookups, so LookupAddr falls back to
// net.DefaultResolver while LookupHost benefits from the cache.
type dnscacheAdapter struct {
	cache *dnscache.Resolver
}

func (a dnscacheAdapter) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return net.DefaultResolver.LookupAddr(ctx, addr)
}

func (a dnscacheAdapter) LookupHost(ctx context.Context, host string) ([]string, error) {
	return a.cache.LookupHost(ctx, host)
}
