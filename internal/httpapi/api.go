package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida"
	"github.com/rs/zerolog/log"
)

// SfidaService is the server-side session orchestrator surface the API needs.
type SfidaService interface {
	StartSession(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error)
	CompletePlayer(ctx context.Context, sessionID uuid.UUID, userID string, responses map[int64]bool) (*models.PlayerResult, error)
	GetResult(ctx context.Context, sessionID uuid.UUID, userID string) (*models.SessionResult, error)
}

// TokenIssuer mints realtime capability tokens.
type TokenIssuer interface {
	RealtimeToken(ctx context.Context, userID string) (realtime.Token, error)
}

type Opts struct {
	Sfide  SfidaService
	Tokens TokenIssuer
	DBPing func(context.Context) error
}

type api struct {
	sfide  SfidaService
	tokens TokenIssuer
	dbPing func(context.Context) error
}

// NewRouter builds the subsystem's HTTP surface. Callers arrive through the
// main application's gateway, which authenticates them and forwards the user
// id in the X-User-ID header.
func NewRouter(opts Opts) http.Handler {
	a := &api{
		sfide:  opts.Sfide,
		tokens: opts.Tokens,
		dbPing: opts.DBPing,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/realtime/token", a.requireUser(a.handleRealtimeToken)).Methods(http.MethodPost)
	r.HandleFunc("/api/sfide", a.requireUser(a.handleSfidaCreate)).Methods(http.MethodPost)
	r.HandleFunc("/api/sfide/{id}/result", a.requireUser(a.handleSfidaResult)).Methods(http.MethodGet)
	r.HandleFunc("/api/sfide/{id}/complete", a.requireUser(a.handleSfidaComplete)).Methods(http.MethodPost)
	r.Use(requestLogger)
	return r
}

type userCtxKey struct{}

func (a *api) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func currentUser(ctx context.Context) string {
	userID, _ := ctx.Value(userCtxKey{}).(string)
	return userID
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("http request")
	})
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if a.dbPing != nil {
		if err := a.dbPing(r.Context()); err != nil {
			log.Error().Err(err).Msg("health check db ping failed")
			WriteError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
