// Package guard decides whether a URL may be fetched: it applies the
// configured blacklist/whitelist patterns and refuses hosts that resolve to
// private or loopback IPv4 ranges.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// Reason explains a rejected Verdict.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonInvalidURL     Reason = "invalid-url"
	ReasonBlacklisted    Reason = "blacklisted"
	ReasonNotWhitelisted Reason = "not-whitelisted"
	ReasonPrivateIP      Reason = "private-ip"
	ReasonUnresolvable   Reason = "unresolvable-host"
)

// DefaultBlacklist refuses government and military hosts.
var DefaultBlacklist = []string{
	`https?://[a-zA-Z0-9-.]+\.gov(/.*)?$`,
	`https?://[a-zA-Z0-9-.]+\.mil(/.*)?$`,
}

var ErrRejected = errors.New("url rejected by guard")

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Config struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

type Verdict struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// Err returns nil for an allowed verdict and a *RejectionError otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return &RejectionError{Reason: v.Reason, Detail: v.Detail}
}

type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", ErrRejected, e.Reason)
	}
	return fmt.Sprintf("%v: %s (%s)", ErrRejected, e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

type Guard struct {
	whitelist []*regexp.Regexp
	blacklist []*regexp.Regexp
	resolver  Resolver
}

// New compiles the patterns. A nil resolver means net.DefaultResolver.
func New(cfg Config, resolver Resolver) (*Guard, error) {
	wl, err := compile(cfg.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	bl, err := compile(cfg.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{whitelist: wl, blacklist: bl, resolver: resolver}, nil
}

// patterns only anchor at the start of the URL
func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Evaluate checks rawURL against the policy and resolves its host. DNS
// answers are never cached, so every call performs a fresh lookup.
func (g *Guard) Evaluate(ctx context.Context, rawURL string) Verdict {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return reject(ReasonInvalidURL, "not an absolute URL")
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return reject(ReasonInvalidURL, "scheme "+u.Scheme+" is not allowed")
	}

	if matchAny(g.blacklist, rawURL) {
		return reject(ReasonBlacklisted, "")
	}
	if len(g.whitelist) > 0 && !matchAny(g.whitelist, rawURL) {
		return reject(ReasonNotWhitelisted, "")
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, u.Hostname())
	if err != nil {
		return reject(ReasonUnresolvable, err.Error())
	}
	var v4 []netip.Addr
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		if ip = ip.Unmap(); ip.Is4() {
			v4 = append(v4, ip)
		}
	}
	if len(v4) == 0 {
		return reject(ReasonUnresolvable, "no IPv4 address for "+u.Hostname())
	}
	for _, ip := range v4 {
		if IsPrivateIPv4(ip) {
			return reject(ReasonPrivateIP, ip.String())
		}
	}
	return Verdict{Allowed: true}
}

// Check is Evaluate folded into an error, for use as a redirect policy.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	return g.Evaluate(ctx, rawURL).Err()
}

// IsPrivateIPv4 reports whether ip lies in 10/8, 172.16/12, 192.168/16 or 127/8.
func IsPrivateIPv4(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.Is4() {
		return false
	}
	for _, p := range privateV4 {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func reject(r Reason, detail string) Verdict {
	return Verdict{Reason: r, Detail: detail}
}
