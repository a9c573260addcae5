package crawler

import (
	"net/url"
	"strings"
)

// trackingPrefixes are query keys dropped during normalization.
var trackingPrefixes = []string{"utm_", "fb_", "gclid"}

// NormalizeURL resolves href against base and rebuilds it as
// scheme://host/path[?query], dropping the fragment and tracking parameters.
// An empty path becomes "/".
// Remaining query keys keep their encounter order and first value only.
// Invalid, empty, or non-http(s) input yields "".
func NormalizeURL(href, base string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != "" {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return ""
		}
		ref = baseURL.ResolveReference(ref)
	}
	scheme := strings.ToLower(ref.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	host := strings.ToLower(ref.Host)
	if host == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if path := ref.EscapedPath(); path != "" {
		b.WriteString(path)
	} else {
		b.WriteByte('/')
	}
	if q := filterQuery(ref.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

func filterQuery(raw string) string {
	if raw == "" {
		return ""
	}
	seen := make(map[string]struct{})
	kept := make([]string, 0)
	for _, pair := range strings.Split(raw, "&") {
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok || rawValue == "" {
			continue
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key == "" {
			continue
		}
		if isTrackingKey(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, rawKey+"="+rawValue)
	}
	return strings.Join(kept, "&")
}

func isTrackingKey(key string) bool {
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// HostOf returns the lowercase hostname of rawURL, or "" if it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameDomain reports whether rawURL belongs to baseHost, either exactly or
// as a subdomain of it.
func SameDomain(rawURL, baseHost string) bool {
	host := HostOf(rawURL)
	baseHost = strings.ToLower(strings.TrimSpace(baseHost))
	if host == "" || baseHost == "" {
		return false
	}
	return host == baseHost || strings.HasSuffix(host, "."+baseHost)
}

// Scope is the set of hosts considered internal to a crawl job.
type Scope struct {
	hosts []string
}

// NewScope builds a Scope from host names or URLs.
func NewScope(domains ...string) *Scope {
	s := &Scope{}
	seen := make(map[string]struct{})
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if strings.Contains(d, "://") {
			d = HostOf(d)
		}
		d = strings.TrimPrefix(strings.ToLower(d), "*.")
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		s.hosts = append(s.hosts, d)
	}
	return s
}

// Contains reports whether rawURL is in scope. A nil Scope contains everything.
func (s *Scope) Contains(rawURL string) bool {
	if s == nil {
		return true
	}
	for _, h := range s.hosts {
		if SameDomain(rawURL, h) {
			return true
		}
	}
	return false
}

// Hosts returns the scope's host list.
func (s *Scope) Hosts() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.hosts...)
}
