package edge

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = DefaultConfig("myeasypage.com", "localhost", "easypage_session")

func TestClassify(t *testing.T) {
	tests := []struct {
		host  string
		path  string
		kind  Kind
		want  string
		gated bool
	}{
		{host: "janedoe.myeasypage.com", path: "/", kind: Subdomain, want: "/janedoe"},
		{host: "janedoe.myeasypage.com", path: "/posts/hello", kind: Subdomain, want: "/janedoe/posts/hello"},
		{host: "janedoe.myeasypage.com", path: "/janedoe/posts", kind: Subdomain, want: "/janedoe/janedoe/posts"},
		{host: "jane.dev", path: "/_custom/jane.dev", kind: CustomDomain, want: "/_custom/jane.dev/_custom/jane.dev"},
		{host: "JaneDoe.MyEasyPage.com:8080", path: "/posts", kind: Subdomain, want: "/janedoe/posts"},
		{host: "janedoe.myeasypage.localhost:3000", path: "/", kind: Subdomain, want: "/janedoe"},
		{host: "jane.dev", path: "/", kind: CustomDomain, want: "/_custom/jane.dev"},
		{host: "www.jane.dev:443", path: "/posts/a", kind: CustomDomain, want: "/_custom/www.jane.dev/posts/a"},
		{host: "myeasypage.com", path: "/pricing", kind: Apex, want: "/pricing"},
		{host: "www.myeasypage.com", path: "/", kind: Apex, want: "/"},
		{host: "admin.myeasypage.com", path: "/x", kind: Apex, want: "/x"},
		{host: "localhost:3000", path: "/janedoe", kind: Apex, want: "/janedoe"},
		{host: "myeasypage.com", path: "/admin", kind: Apex, want: "/admin", gated: true},
		{host: "myeasypage.com", path: "/admin/editor", kind: Apex, want: "/admin/editor", gated: true},
		{host: "myeasypage.com", path: "/superadmin", kind: Apex, want: "/superadmin", gated: true},
		{host: "myeasypage.com", path: "/administrator", kind: Apex, want: "/administrator"},
		{host: "janedoe.myeasypage.com", path: "/api/pages/janedoe", kind: Bypass, want: "/api/pages/janedoe"},
		{host: "jane.dev", path: "/assets/app.js", kind: Bypass, want: "/assets/app.js"},
		{host: "jane.dev", path: "/favicon.ico", kind: Bypass, want: "/favicon.ico"},
	}
	for _, tt := range tests {
		t.Run(tt.host+tt.path, func(t *testing.T) {
			d := cfg.Classify(tt.host, tt.path)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.want, d.Path)
			assert.Equal(t, tt.gated, d.Gated)
		})
	}
}

func TestMiddlewareRewritesOnce(t *testing.T) {
	for _, c := range []struct{ url, want string }{
		{"http://janedoe.myeasypage.com/", "/janedoe"},
		{"http://janedoe.myeasypage.com/posts/x", "/janedoe/posts/x"},
		{"http://janedoe.myeasypage.com/janedoe", "/janedoe/janedoe"},
		{"http://jane.dev/about", "/_custom/jane.dev/about"},
		{"http://myeasypage.com/pricing", "/pricing"},
	} {
		var seen *http.Request
		h := cfg.Middleware(cfg.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r
		})))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, c.url, nil))
		require.NotNil(t, seen, c.url)
		assert.Equal(t, c.want, seen.URL.Path, c.url)
	}
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	var seen *http.Request
	h := cfg.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewarePreservesQuery(t *testing.T) {
	for _, target := range []string{
		"/posts/hello?utm_source=x&a=%2F&a=2",
		"/?ref=bio",
		"/deep/path/here?q=a+b",
	} {
		req := httptest.NewRequest(http.MethodGet, "http://janedoe.myeasypage.com"+target, nil)
		original := req.URL.RawQuery

		_, seen := serve(t, req)
		require.NotNil(t, seen)
		assert.Equal(t, original, seen.URL.RawQuery)
		assert.Equal(t, "janedoe.myeasypage.com", seen.Host)
		// the caller's request is untouched
		assert.NotEqual(t, req.URL.Path, seen.URL.Path)

		d, ok := FromContext(seen.Context())
		require.True(t, ok)
		assert.Equal(t, Subdomain, d.Kind)
		assert.Equal(t, "janedoe", d.Label)
	}
}

func TestMiddlewareCustomDomain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://jane.dev:8443/posts?page=2", nil)
	_, seen := serve(t, req)
	require.NotNil(t, seen)
	assert.Equal(t, "/_custom/jane.dev/posts", seen.URL.Path)
	assert.Equal(t, "page=2", seen.URL.RawQuery)
}

func TestGateRedirectsWithoutCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://myeasypage.com/admin/editor?tab=links", nil)
	rec, seen := serve(t, req)

	assert.Nil(t, seen)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fadmin%2Feditor%3Ftab%3Dlinks", rec.Header().Get("Location"))
}

func TestGateAllowsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://myeasypage.com/superadmin", nil)
	req.AddCookie(&http.Cookie{Name: "easypage_session", Value: "anything"})
	rec, seen := serve(t, req)

	require.NotNil(t, seen)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
