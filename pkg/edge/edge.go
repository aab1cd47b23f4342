// Package edge classifies every inbound request by host and rewrites tenant
// requests into the site-scoped route trees before routing.
package edge

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/myeasypage/easypage/pkg/model"
)

type Kind int

const (
	Bypass Kind = iota
	Apex
	Subdomain
	CustomDomain
)

func (k Kind) String() string {
	switch k {
	case Bypass:
		return "bypass"
	case Apex:
		return "apex"
	case Subdomain:
		return "subdomain"
	case CustomDomain:
		return "custom-domain"
	}
	return "unknown"
}

// CustomPrefix is the route tree custom-domain requests are rewritten into.
const CustomPrefix = "/_custom"

type Config struct {
	BaseDomain string
	// DevMarker is a host fragment, such as "localhost", that is never a custom domain.
	DevMarker      string
	CookieName     string
	LoginPath      string
	GatedPrefixes  []string
	BypassPrefixes []string
}

func DefaultConfig(baseDomain, devMarker, cookieName string) Config {
	return Config{
		BaseDomain:     strings.ToLower(baseDomain),
		DevMarker:      devMarker,
		CookieName:     cookieName,
		LoginPath:      "/login",
		GatedPrefixes:  []string{"/admin", "/superadmin"},
		BypassPrefixes: []string{"/api/", "/assets/", "/static/", "/_next/", "/favicon.ico", "/metrics", "/healthz"},
	}
}

// Decision is the outcome of classifying one request.
type Decision struct {
	Kind Kind
	// Host is the lowercased host without port.
	Host string
	// Label is the tenant label for Subdomain decisions.
	Label string
	// Path is the path the request should be routed with.
	Path string
	// Gated is set when the path requires a session cookie.
	Gated bool
}

// Classify decides how a request for host and path is routed. It has no side
// effects; Middleware makes sure it runs once per request.
func (c Config) Classify(host, path string) Decision {
	if path == "" {
		path = "/"
	}
	h := model.HostWithoutPort(host)

	for _, prefix := range c.BypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Decision{Kind: Bypass, Host: h, Path: path}
		}
	}

	labels := strings.Split(h, ".")
	if c.isCustomDomain(h, labels) {
		return Decision{Kind: CustomDomain, Host: h, Path: prefixPath(CustomPrefix+"/"+h, path)}
	}
	if len(labels) >= 3 && !model.IsReserved(labels[0]) {
		return Decision{Kind: Subdomain, Host: h, Label: labels[0], Path: prefixPath("/"+labels[0], path)}
	}

	return Decision{Kind: Apex, Host: h, Path: path, Gated: c.gated(path)}
}

func (c Config) isCustomDomain(host string, labels []string) bool {
	if c.DevMarker != "" && strings.Contains(host, c.DevMarker) {
		return false
	}
	if host == c.BaseDomain || strings.HasSuffix(host, "."+c.BaseDomain) {
		return false
	}
	return len(labels) >= 2
}

func (c Config) gated(path string) bool {
	for _, prefix := range c.GatedPrefixes {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// prefixPath always prepends prefix so the tenant sees its original path
// unchanged, even one that starts with its own label.
func prefixPath(prefix, path string) string {
	if path == "/" {
		return prefix
	}
	return prefix + path
}

type contextKey struct{}

// FromContext returns the decision the middleware made for the request.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextKey{}).(Decision)
	return d, ok
}

// Middleware applies Classify to every request. Rewrites only touch the URL
// path, the query string and host are passed on verbatim. A request that was
// already classified is passed on unchanged, so a request is rewritten once.
func (c Config) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		d := c.Classify(r.Host, r.URL.Path)
		ctx := context.WithValue(r.Context(), contextKey{}, d)

		if d.Gated {
			if cookie, err := r.Cookie(c.CookieName); err != nil || cookie.Value == "" {
				target := c.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
		}

		r = r.WithContext(ctx)
		if d.Path != r.URL.Path {
			u := *r.URL
			u.Path = d.Path
			u.RawPath = ""
			r.URL = &u
		}
		next.ServeHTTP(w, r)
	})
}
