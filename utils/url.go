package utils

import (
	"errors"
	"net/url"
	"strings"
)

var ErrNotAbsolute = errors.New("url is not absolute")

func DropUtmMarkers(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr // return original URL in case of error
	}
	if u.RawQuery == "" {
		return urlStr
	}

	queryParams := u.Query()
	for key := range queryParams {
		if strings.HasPrefix(key, "utm_") {
			delete(queryParams, key)
		}
	}

	u.RawQuery = queryParams.Encode()

	return u.String()
}

// ResolveURL resolves ref against base and returns an absolute http(s) URL.
// An empty ref resolves to base itself.
func ResolveURL(base string, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	resolved := b.ResolveReference(r)
	if !IsAbsoluteHTTP(resolved) {
		return "", ErrNotAbsolute
	}
	resolved.Fragment = ""

	return DropUtmMarkers(resolved.String()), nil
}

func IsAbsoluteHTTP(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
