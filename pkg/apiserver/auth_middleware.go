package apiserver

import (
	"context"
	"net/http"

	"github.com/myeasypage/easypage/pkg/auth"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
)

type ContextKey string

const (
	OwnerID ContextKey = "ownerID"
	Role    ContextKey = "role"
)

// sessionMiddleware requires a valid session cookie or bearer token and puts
// the owner id and role into the request context.
func sessionMiddleware(sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessions.FromRequest(r)
			if err != nil {
				logrus.Debugf("rejected session for %s: %v", r.URL.Path, err)
				writeError(w, model.Unauthorized("authentication required"))
				return
			}
			ownerID, err := claims.OwnerID()
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), OwnerID, ownerID)
			ctx = context.WithValue(ctx, Role, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole must run after sessionMiddleware.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if roleFromContext(r.Context()) != role {
				writeError(w, model.Forbidden("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ownerIDFromContext(ctx context.Context) uint {
	ownerID, _ := ctx.Value(OwnerID).(uint)
	return ownerID
}

func roleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(Role).(string)
	return role
}
