package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/firezap/firezap/internal/config"
	"github.com/firezap/firezap/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.handlers[protocol.MethodConnect] = r.handleConnect
	r.handlers[protocol.MethodHealth] = r.handleHealth
	r.handlers[protocol.MethodStatus] = r.handleStatus
	r.handlers[protocol.MethodSubscribe] = r.handleSubscribe
	r.handlers[protocol.MethodUnsubscribe] = r.handleUnsubscribe
}

// --- Handlers ---

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token string `json:"token"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	token := r.server.token
	if token != "" && subtle.ConstantTimeCompare([]byte(params.Token), []byte(token)) != 1 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	client.authenticated = true
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"server": map[string]interface{}{
			"name":    "firezap",
			"version": "0.1.0",
		},
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status": "ok",
	}))
}

func (r *MethodRouter) handleStatus(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"sessions": r.server.registry.Count(),
		"clients":  r.server.ClientCount(),
	}))
}

// handleSubscribe joins the client to a session's group. The session is
// ensured first, mirroring the REST surface: subscribing to a session
// that does not exist yet brings it up. The snapshot replay happens
// inside Subscribe, before any later live event can be delivered.
func (r *MethodRouter) handleSubscribe(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	id, ok := r.sessionIDParam(client, req)
	if !ok {
		return
	}

	sess, err := r.server.registry.Ensure(ctx, id)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	r.server.broadcaster.Subscribe(id, client)
	status, _ := sess.Status()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"sessionId": id,
		"status":    status,
	}))
}

func (r *MethodRouter) handleUnsubscribe(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	id, ok := r.sessionIDParam(client, req)
	if !ok {
		return
	}

	r.server.broadcaster.Unsubscribe(id, client)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"sessionId": id,
	}))
}

// sessionIDParam extracts and normalizes the sessionId request param,
// replying with an error frame if it is missing or unusable.
func (r *MethodRouter) sessionIDParam(client *Client, req *protocol.RequestFrame) (string, bool) {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	id := config.NormalizeSessionID(params.SessionID)
	if id == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "sessionId is required"))
		return "", false
	}
	return id, true
}
