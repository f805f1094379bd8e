package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/gateway"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/types"
)

// ServerController defines the interface that the web handler uses to interact with the AppServer.
type ServerController interface {
	ListAgents() []agent.Info
	OpenForward(ctx context.Context, agentID, from, to string) (registry.Summary, error)
	OpenSocks5(ctx context.Context, agentID, listen string, auth gateway.Authenticator) (net.Addr, error)
	ListProxies() []registry.Summary
	CloseProxy(key string) bool
	// ServeAgent takes over an upgraded agent connection and returns when it ends.
	ServeAgent(conn net.Conn, name string)
}

// Response is the envelope of every JSON answer.
type Response struct {
	Code int         `json:"code"`
	Body interface{} `json:"body"`
}

type Handler struct {
	cfg        *types.Config
	controller ServerController
}

func NewHandler(cfg *types.Config, controller ServerController) *Handler {
	return &Handler{cfg: cfg, controller: controller}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /client", h.HandleListClients)
	mux.HandleFunc("POST /client/{addr}/proxy/forward", h.HandleForward)
	mux.HandleFunc("POST /client/{addr}/proxy/socks5/noauth", h.HandleSocks5NoAuth)
	mux.HandleFunc("POST /client/{addr}/proxy/socks5/pass", h.HandleSocks5Pass)
	mux.HandleFunc("GET /server/proxy", h.HandleListProxies)
	mux.HandleFunc("DELETE /server/proxy/{key}", h.HandleDeleteProxy)
	mux.HandleFunc("GET "+h.cfg.AgentPath, h.HandleAgent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Code: 0, Body: body}); err != nil {
		logger.Warn().Err(err).Msg("Web: failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.Status())
	_ = json.NewEncoder(w).Encode(Response{Code: kind.Code(), Body: err.Error()})
}

func (h *Handler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.ListAgents())
}

func (h *Handler) HandleForward(w http.ResponseWriter, r *http.Request) {
	from, err := requireForm(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := requireForm(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.controller.OpenForward(r.Context(), r.PathValue("addr"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleSocks5NoAuth(w http.ResponseWriter, r *http.Request) {
	from, err := requireForm(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	h.openSocks5(w, r, from, gateway.NoAuth{})
}

func (h *Handler) HandleSocks5Pass(w http.ResponseWriter, r *http.Request) {
	name, err := requireForm(r, "name")
	if err != nil {
		writeError(w, err)
		return
	}
	password := r.PostFormValue("password")
	from := r.PostFormValue("from")
	if from == "" {
		from = h.cfg.DefaultListen
	}
	h.openSocks5(w, r, from, gateway.UserPass{Username: name, Password: password})
}

func (h *Handler) openSocks5(w http.ResponseWriter, r *http.Request, from string, auth gateway.Authenticator) {
	if _, err := shared.ParseAddr(from); err != nil {
		writeError(w, errors.Parse("invalid listen address ", from).Base(err))
		return
	}
	bound, err := h.controller.OpenSocks5(r.Context(), r.PathValue("addr"), from, auth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bound.String())
}

func (h *Handler) HandleListProxies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.ListProxies())
}

// HandleDeleteProxy closes a session. An unknown key is not an error.
func (h *Handler) HandleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	closed := h.controller.CloseProxy(key)
	logger.Info().Str("session", key).Bool("closed", closed).Msg("Web: proxy close requested")
	writeJSON(w, http.StatusOK, nil)
}

// HandleAgent upgrades the request and hands the connection to the controller.
func (h *Handler) HandleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := shared.NewWebSocketConnAdapterServer(w, r)
	if err != nil {
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Web: agent upgrade failed")
		return
	}
	h.controller.ServeAgent(conn, r.Header.Get(agentNameHeader))
}

func requireForm(r *http.Request, key string) (string, error) {
	v := r.PostFormValue(key)
	if v == "" {
		return "", errors.Parse("missing form field ", key)
	}
	return v, nil
}
