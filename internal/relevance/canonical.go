// internal/relevance/canonical.go
package relevance

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalLink normalizes a URL into the dedup key: lowercased scheme and
// host, default ports stripped, no trailing slash, query parameters in sorted
// order, fragment dropped. Two links that render the same page should map to
// the same key. Unparsable input falls back to the trimmed raw string so a
// malformed link still dedups against an identical malformed link.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "/" {
		path = ""
	}

	query := ""
	if u.RawQuery != "" {
		values, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var parts []string
			for _, k := range keys {
				vals := values[k]
				sort.Strings(vals)
				for _, v := range vals {
					parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
				}
			}
			query = "?" + strings.Join(parts, "&")
		} else {
			query = "?" + u.RawQuery
		}
	}

	return scheme + "://" + host + path + query
}
