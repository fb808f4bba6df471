package supervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/etchlab/engravelink/internal/eventlog"
	"github.com/etchlab/engravelink/internal/protocol"
	"github.com/etchlab/engravelink/internal/stats"
)

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux
// served under /debug/. These routes are meant for localhost/operator
// access, not public exposure.
func (s *Supervisor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to parse and queue a command for the engraver
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		text := strings.TrimSpace(r.FormValue("command"))
		if text == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		cmd, err := protocol.ParseCommand(text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Send(cmd); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		io.WriteString(w, fmt.Sprintf("Queued command %q", text))
	})

	// JSON snapshot of state + statistics
	debug.HandleSilentFunc("link-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			State      string         `json:"state"`
			Statistics stats.Snapshot `json:"statistics"`
		}{
			State:      s.State().String(),
			Statistics: s.Statistics(),
		})
	})

	// Server-Sent Events stream of status bus events
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.bus.Subscribe()
		defer s.bus.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	// recent history from the event log, when persistence is enabled
	debug.HandleSilentFunc("link-history", func(w http.ResponseWriter, r *http.Request) {
		if s.log == nil {
			http.Error(w, "event log disabled", http.StatusNotFound)
			return
		}
		transitions, err := s.log.RecentTransitions(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		commands, err := s.log.RecentCommands(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Transitions []eventlog.Transition `json:"transitions"`
			Commands    []eventlog.CommandRecord `json:"commands"`
		}{
			Transitions: transitions,
			Commands:    commands,
		})
	})
}
