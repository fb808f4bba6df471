// Package api exposes the engraver link over a small REST surface: status,
// command submission, connect/disconnect, and persisted history.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/etchlab/engravelink/internal/eventlog"
	"github.com/etchlab/engravelink/internal/httputil"
	"github.com/etchlab/engravelink/internal/protocol"
	"github.com/etchlab/engravelink/internal/stats"
	"github.com/etchlab/engravelink/internal/supervisor"
	"github.com/etchlab/engravelink/internal/version"
)

type Server struct {
	sup *supervisor.Supervisor
	log *eventlog.Store
}

// NewServer wires the API to a supervisor and an optional event log; log may
// be nil when persistence is disabled.
func NewServer(sup *supervisor.Supervisor, log *eventlog.Store) *Server {
	return &Server{
		sup: sup,
		log: log,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/connect", s.connectHandler)
	mux.HandleFunc("/disconnect", s.disconnectHandler)
	mux.HandleFunc("/reset-stats", s.resetStatsHandler)
	mux.HandleFunc("/history", s.historyHandler)
	return mux
}

type statusResponse struct {
	State      string         `json:"state"`
	Statistics stats.Snapshot `json:"statistics"`
	Version    string         `json:"version"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		State:      s.sup.State().String(),
		Statistics: s.sup.Statistics(),
		Version:    version.Version,
	})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	text := strings.TrimSpace(r.FormValue("command"))
	if text == "" {
		httputil.BadRequest(w, "missing command")
		return
	}
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.sup.Send(cmd); err != nil {
		// not connected or buffer full; the caller can retry later
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"queued": cmd.Text()})
}

func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.sup.Connect(); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.sup.State().String()})
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.sup.Disconnect(); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"state": s.sup.State().String()})
}

func (s *Server) resetStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.sup.ResetStatistics()
	httputil.WriteJSONOK(w, s.sup.Statistics())
}

type historyResponse struct {
	Transitions []eventlog.Transition    `json:"transitions"`
	Commands    []eventlog.CommandRecord `json:"commands"`
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.log == nil {
		httputil.NotFound(w, "event log disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	transitions, err := s.log.RecentTransitions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	commands, err := s.log.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, historyResponse{Transitions: transitions, Commands: commands})
}
