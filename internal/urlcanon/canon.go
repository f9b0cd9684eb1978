// Package urlcanon normalizes article URLs into stable identity keys.
package urlcanon

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped during canonicalization. Keys are lowercase;
// any utm_ prefixed key is stripped as well.
var trackingParams = map[string]struct{}{
	"utm_source":      {},
	"utm_medium":      {},
	"utm_campaign":    {},
	"utm_term":        {},
	"utm_content":     {},
	"utm_id":          {},
	"gclid":           {},
	"gclsrc":          {},
	"dclid":           {},
	"fbclid":          {},
	"fb_action_ids":   {},
	"fb_action_types": {},
	"fb_source":       {},
	"fb_ref":          {},
	"twclid":          {},
	"msclkid":         {},
	"mc_cid":          {},
	"mc_eid":          {},
	"hsa_acc":         {},
	"hsa_cam":         {},
	"hsa_grp":         {},
	"hsa_ad":          {},
	"hsa_src":         {},
	"hsa_net":         {},
	"hsa_ver":         {},
	"ref":             {},
	"ref_src":         {},
	"source":          {},
	"_ga":             {},
	"_gl":             {},
	"yclid":           {},
	"wickedid":        {},
	"igshid":          {},
	"si":              {},
	"s_kwcid":         {},
	"trk":             {},
	"trkemail":        {},
	"sc_campaign":     {},
	"sc_channel":      {},
	"sc_content":      {},
	"sc_medium":       {},
	"sc_outcome":      {},
	"sc_geo":          {},
	"sc_country":      {},
}

// IsTrackingParam reports whether a query key is a known tracker.
func IsTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// Canonicalize upgrades http to https, lowercases the host, drops the
// fragment and tracking parameters, sorts the remaining query by key and
// strips trailing slashes from non-root paths. Input that does not parse as an
// absolute URL is returned unchanged.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false

	// work on the escaped form so encoded separators such as %2F survive
	escaped := u.EscapedPath()
	switch {
	case escaped == "":
		escaped = "/"
	case escaped != "/":
		// every trailing slash goes, or a second pass would strip another
		escaped = strings.TrimRight(escaped, "/")
		if escaped == "" {
			escaped = "/"
		}
	}
	if decoded, err := url.PathUnescape(escaped); err == nil {
		u.Path = decoded
		u.RawPath = escaped
	}

	return u.String()
}

type queryPair struct {
	key   string
	value string
	raw   string
}

// cleanQuery keeps the original value order of repeated keys while sorting
// keys, so the result is stable across repeated passes. Pairs that do not
// unescape are kept byte for byte.
func cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	pairs := make([]queryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, kerr := url.QueryUnescape(k)
		val, verr := url.QueryUnescape(v)
		if kerr != nil || verr != nil {
			if kerr != nil {
				key = k
			}
			if IsTrackingParam(key) {
				continue
			}
			pairs = append(pairs, queryPair{key: key, raw: part})
			continue
		}
		if IsTrackingParam(key) {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: val})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		if p.raw != "" {
			b.WriteString(p.raw)
			continue
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// ExtractDomain returns the lowercased host of rawURL, or "" when it cannot
// be parsed.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsValidHTTPURL reports whether rawURL is an absolute http or https URL.
func IsValidHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// Resolve resolves ref against base. On failure ref is returned as given.
func Resolve(ref, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
