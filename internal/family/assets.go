package family

import (
	"fmt"
	"net/url"
	"strings"
)

// AssetResolver recognizes image URLs that point at the configured asset
// bases and recovers the blob object key from the URL path. URLs outside the
// known bases are foreign and left untouched.
type AssetResolver struct {
	bases []*url.URL
}

// NewAssetResolver parses the given base URLs. A base matches on scheme,
// host, and path prefix.
func NewAssetResolver(bases ...string) (*AssetResolver, error) {
	r := &AssetResolver{}
	for _, raw := range bases {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse asset base %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("asset base %q needs scheme and host", raw)
		}
		u.Path = strings.TrimSuffix(u.Path, "/")
		r.bases = append(r.bases, u)
	}
	return r, nil
}

// KeyFor reports whether raw points into a known asset base and, if so, the
// percent-decoded object key recovered from the URL path.
func (r *AssetResolver) KeyFor(raw string) (string, bool) {
	if r == nil || raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	for _, base := range r.bases {
		if u.Scheme != base.Scheme || u.Host != base.Host {
			continue
		}
		// url.Parse already percent-decoded the path.
		if !strings.HasPrefix(u.Path, base.Path+"/") {
			continue
		}
		key := strings.TrimPrefix(u.Path[len(base.Path):], "/")
		if key == "" {
			return "", false
		}
		return key, true
	}
	return "", false
}

// URLFor builds the public URL for an object key under the first base.
func (r *AssetResolver) URLFor(key string) string {
	if r == nil || len(r.bases) == 0 {
		return ""
	}
	base := r.bases[0]
	u := *base
	u.Path = base.Path + "/" + key
	return u.String()
}
