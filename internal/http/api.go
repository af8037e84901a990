// Package http is the REST control surface for session CRUD and
// outbound sends, consumed by dashboards and automation.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/firezap/firezap/internal/config"
	"github.com/firezap/firezap/internal/session"
	"github.com/firezap/firezap/pkg/protocol"
)

var tracer = otel.Tracer("firezap/http")

// API serves the session control endpoints.
type API struct {
	registry *session.Registry
	token    string
}

// NewAPI creates the control surface over a registry. token may be
// empty to disable auth.
func NewAPI(registry *session.Registry, token string) *API {
	return &API{registry: registry, token: token}
}

// Register installs all routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /sessions", a.withAuth(a.handleList))
	mux.HandleFunc("POST /session/{id}", a.withAuth(a.handleEnsure))
	mux.HandleFunc("GET /session/{id}/status", a.withAuth(a.handleStatus))
	mux.HandleFunc("GET /session/{id}/qr", a.withAuth(a.handleQR))
	mux.HandleFunc("POST /session/{id}/send", a.withAuth(a.handleSend))
	mux.HandleFunc("DELETE /session/{id}", a.withAuth(a.handleRemove))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"sessions": a.registry.List(),
	})
}

func (a *API) handleEnsure(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	ctx, span := tracer.Start(r.Context(), "session.ensure")
	span.SetAttributes(attribute.String("session.id", id))
	defer span.End()

	sess, err := a.registry.Ensure(ctx, id)
	if err != nil {
		slog.Error("ensure session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}

	status, _ := sess.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"id":     id,
		"status": status,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	sess, ok := a.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "session does not exist")
		return
	}

	status, detail := sess.Status()
	resp := map[string]interface{}{
		"ok":     true,
		"id":     id,
		"status": status,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleQR(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	sess, ok := a.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "session does not exist")
		return
	}

	status, _ := sess.Status()
	var qr *string
	if code := sess.QR(); code != "" {
		qr = &code
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"id":     id,
		"status": status,
		"qr":     qr,
	})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	sess, ok := a.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "session does not exist")
		return
	}

	var body struct {
		To  string `json:"to"`
		Msg string `json:"msg"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.To == "" || body.Msg == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, `body must be { "to": "...", "msg": "..." }`)
		return
	}

	ctx, span := tracer.Start(r.Context(), "session.send")
	span.SetAttributes(attribute.String("session.id", id))
	defer span.End()

	msgID, err := sess.SendText(ctx, body.To, body.Msg)
	switch {
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrSendUnsupported):
		writeError(w, http.StatusConflict, protocol.ErrFailedPrecondition, err.Error())
		return
	case err != nil:
		slog.Error("send failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"result": map[string]string{
			"id": msgID,
		},
	})
}

// handleRemove tears the session down and wipes its credentials. An
// unknown id still gets a success-shaped response: the caller wanted
// the session gone, and it is.
func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	_, span := tracer.Start(r.Context(), "session.remove")
	span.SetAttributes(attribute.String("session.id", id))
	defer span.End()

	if err := a.registry.Remove(id); err != nil {
		slog.Error("remove session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"id":     id,
		"status": protocol.StatusDisconnected,
	})
}

// --- Helpers ---

func (a *API) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := config.NormalizeSessionID(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid session id")
		return "", false
	}
	return id, true
}

// withAuth wraps a handler with bearer-token auth (timing-safe
// comparison). No configured token disables the check.
func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "invalid token")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}
