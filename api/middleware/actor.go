package middleware

import (
	"net/http"
	"strings"

	"github.com/stockroom-hq/stockroom-backend/api/responses"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

const actorHeader = "X-Actor-Id"

// Actor lifts the gateway-asserted caller identity off the request into the
// context. Authentication happens upstream; this service only records who
// performed each mutation.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := strings.TrimSpace(r.Header.Get(actorHeader))
			if actorID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithActorID(r.Context(), actorID)
			if logg != nil {
				ctx = logg.WithField(ctx, "actor_id", actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireActor rejects requests that arrive without a caller identity. Used
// on mutating routes so history entries always name a performer.
func RequireActor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorIDFromContext(r.Context()) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
