// Package mcpapi serves the façade over a small JSON HTTP API for browser
// clients: the tool catalog, connected-server summaries, tool execution and
// teardown.
package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/facade"
	"github.com/vikashloomba/mcp-stdio-manager-go/pkg/mcpmgr"
)

// Service is the façade surface served by the API.
type Service interface {
	InitializeAndListTools(ctx context.Context) facade.CatalogSnapshot
	GetConnectedServersInfo(ctx context.Context) []mcpmgr.ServerSummary
	ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcp.CallToolResult, error)
	DisconnectAll(ctx context.Context) error
}

// Options configure the API handler.
type Options struct {
	// AllowedOrigins lists the origins permitted by CORS. Empty allows any
	// origin.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

const requestIDHeader = "X-Request-ID"

// API routes HTTP requests to a Service.
type API struct {
	svc    Service
	opts   Options
	mux    *http.ServeMux
	logger *slog.Logger
}

// New builds an API over svc.
func New(svc Service, opts *Options) *API {
	options := opts.withDefaults()
	a := &API{
		svc:    svc,
		opts:   options,
		mux:    http.NewServeMux(),
		logger: options.Logger,
	}
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /api/mcp/tools", a.handleTools)
	a.mux.HandleFunc("GET /api/mcp/servers", a.handleServers)
	a.mux.HandleFunc("POST /api/mcp/execute", a.handleExecute)
	a.mux.HandleFunc("POST /api/mcp/disconnect", a.handleDisconnect)
	return a
}

// ServeMux exposes the router so callers can mount additional routes before
// serving.
func (a *API) ServeMux() *http.ServeMux { return a.mux }

// Handler returns the API wrapped with request IDs and CORS.
func (a *API) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(a.withRequestID(a.mux))
}

func (a *API) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		a.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id)
		next.ServeHTTP(w, r)
	})
}

type executeRequest struct {
	ServerID  string         `json:"serverId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.InitializeAndListTools(r.Context()))
}

func (a *API) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.GetConnectedServersInfo(r.Context()))
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.ServerID == "" || req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "serverId and toolName are required"})
		return
	}
	res, err := a.svc.ExecuteTool(r.Context(), req.ServerID, req.ToolName, req.Arguments)
	if err != nil {
		status := statusFor(err)
		a.logger.Error("tool execution failed", "server", req.ServerID, "tool", req.ToolName, "status", status, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DisconnectAll(r.Context()); err != nil {
		a.logger.Warn("disconnect all", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	var remote *mcpmgr.RemoteError
	switch {
	case errors.Is(err, mcpmgr.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, mcpmgr.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, mcpmgr.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, facade.ErrManagerUnavailable), errors.Is(err, mcpmgr.ErrDisconnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
