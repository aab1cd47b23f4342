package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/myeasypage/easypage/pkg/backend"
	"github.com/myeasypage/easypage/pkg/edge"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/version"
)

func (a *apiServer) root(w http.ResponseWriter, r *http.Request) {
	v := version.Get()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"success": false}`))
	}
}

// Routing contexts of the not found experience.
const (
	contextMain       = "main"
	contextTenant     = "tenant"
	contextAdmin      = "admin"
	contextSuperAdmin = "superadmin"
)

var notFoundMessages = map[string]string{
	contextMain:       "page not found",
	contextTenant:     "this page does not exist",
	contextAdmin:      "admin page not found",
	contextSuperAdmin: "super admin page not found",
}

type notFoundData struct {
	Context string `json:"context"`
}

func notFoundContext(r *http.Request) string {
	if d, ok := edge.FromContext(r.Context()); ok && (d.Kind == edge.Subdomain || d.Kind == edge.CustomDomain) {
		return contextTenant
	}
	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case path == "/superadmin" || strings.HasPrefix(path, "/superadmin/"):
		return contextSuperAdmin
	case path == "/admin" || strings.HasPrefix(path, "/admin/"):
		return contextAdmin
	case strings.HasPrefix(path, "/pages/"):
		return contextTenant
	}
	return contextMain
}

// writeNotFound renders the not found payload for the request's routing context.
func writeNotFound(w http.ResponseWriter, r *http.Request) {
	ctx := notFoundContext(r)
	writeJSON(w, http.StatusNotFound, model.Response{
		Success: false,
		Message: notFoundMessages[ctx],
		Data:    notFoundData{Context: ctx},
	})
}

func (a *apiServer) notFound(w http.ResponseWriter, r *http.Request) {
	writeNotFound(w, r)
}

func (a *apiServer) checkSubdomain(w http.ResponseWriter, r *http.Request) {
	res, err := a.backend.CheckSubdomain(r.Context(), r.URL.Query().Get("subdomain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}

func (a *apiServer) listOwners(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	owners, err := a.backend.ListOwners(r.Context(), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, owners, "")
}

func (a *apiServer) me(w http.ResponseWriter, r *http.Request) {
	owner, err := a.backend.GetOwner(r.Context(), ownerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, backend.OwnerView(owner), "")
}

func idFromPath(r *http.Request, key string) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[key], 10, 64)
	if err != nil || id == 0 {
		return 0, model.Validation("invalid %s", key)
	}
	return uint(id), nil
}
