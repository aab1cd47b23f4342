package apiserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/ratelimit"
)

// writePageError renders not found errors with the routing context payload.
func writePageError(w http.ResponseWriter, r *http.Request, err error) {
	if model.KindOf(err) == model.KindNotFound {
		writeNotFound(w, r)
		return
	}
	writeError(w, err)
}

// siteSegment is the path segment a site route identifies its owner with.
func siteSegment(r *http.Request) string {
	vars := mux.Vars(r)
	for _, key := range []string{"username", "domain", "site"} {
		if v := vars[key]; v != "" {
			return v
		}
	}
	return ""
}

func (a *apiServer) resolveOwner(r *http.Request) (db.Owner, error) {
	return a.resolver.Resolve(r.Context(), r.Host, siteSegment(r))
}

func pageETag(snapshot, owner int64) string {
	return fmt.Sprintf(`W/"%x-%x"`, snapshot, owner)
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

// servePage writes the published page of owner. The ETag changes whenever the
// published document or the owner's plan is written.
func (a *apiServer) servePage(w http.ResponseWriter, r *http.Request, owner db.Owner) {
	snapshot, err := a.content.Published(r.Context(), owner.ID)
	if err != nil {
		writePageError(w, r, err)
		return
	}

	etag := pageETag(snapshot.UpdatedAt.UnixNano(), owner.UpdatedAt.UnixNano())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeSuccess(w, http.StatusOK, model.PageResponse{
		Subdomain: owner.Subdomain,
		Plan:      owner.Plan,
		Document:  snapshot.Document,
		UpdatedAt: snapshot.UpdatedAt,
	}, "")
}

func (a *apiServer) page(w http.ResponseWriter, r *http.Request) {
	owner, err := a.resolveOwner(r)
	if err != nil {
		writePageError(w, r, err)
		return
	}
	a.servePage(w, r, owner)
}

func (a *apiServer) publicPosts(w http.ResponseWriter, r *http.Request) {
	owner, err := a.resolveOwner(r)
	if err != nil {
		writePageError(w, r, err)
		return
	}
	posts, err := a.backend.ListPosts(r.Context(), owner.ID, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, posts, "")
}

func (a *apiServer) publicPost(w http.ResponseWriter, r *http.Request) {
	owner, err := a.resolveOwner(r)
	if err != nil {
		writePageError(w, r, err)
		return
	}
	post, err := a.backend.GetPost(r.Context(), owner.ID, mux.Vars(r)["slug"], true)
	if err != nil {
		writePageError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, post, "")
}

func (a *apiServer) contact(w http.ResponseWriter, r *http.Request) {
	owner, err := a.resolveOwner(r)
	if err != nil {
		writePageError(w, r, err)
		return
	}
	if !a.limit(w, r, ratelimit.Contact, fmt.Sprintf("%s:%d", realIP(r), owner.ID)) {
		return
	}

	var input model.ContactRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}
	if err := a.backend.Contact(r.Context(), owner, input); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "message sent")
}
