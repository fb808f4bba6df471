package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/etchlab/engravelink/internal/eventlog"
	"github.com/etchlab/engravelink/internal/statusbus"
	"github.com/etchlab/engravelink/internal/supervisor"
	"github.com/etchlab/engravelink/internal/transport"
)

func newTestServer(t *testing.T, log *eventlog.Store) (*Server, *supervisor.Supervisor, *transport.MockLink) {
	t.Helper()
	link := transport.NewMockLink()
	sup, err := supervisor.New(supervisor.Options{
		Link:                 link,
		Bus:                  statusbus.New(),
		Log:                  log,
		RetryLimit:           2,
		IOTimeout:            time.Second,
		DisableAutoReconnect: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sup.Close() })
	return NewServer(sup, log), sup, link
}

func postForm(t *testing.T, mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, sup, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "disconnected" {
		t.Errorf("state = %q, want disconnected", resp.State)
	}
	if resp.Version == "" {
		t.Error("version missing from status response")
	}

	if err := sup.Connect(); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.State != "connected" {
		t.Errorf("state = %q after connect, want connected", resp.State)
	}

	// wrong method
	rec = postForm(t, mux, "/status", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", rec.Code)
	}
}

func TestCommandEndpoint(t *testing.T) {
	srv, sup, link := newTestServer(t, nil)
	mux := srv.ServeMux()

	// not connected yet
	rec := postForm(t, mux, "/command", url.Values{"command": {"home"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("command while disconnected = %d, want 409", rec.Code)
	}

	if err := sup.Connect(); err != nil {
		t.Fatal(err)
	}

	rec = postForm(t, mux, "/command", url.Values{"command": {"move 100 200"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("command = %d, want 200: %s", rec.Code, rec.Body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sup.Statistics().SentCount == 0 {
		time.Sleep(time.Millisecond)
	}
	if got := len(link.Sent()); got != 2 { // handshake ping + move
		t.Errorf("link saw %d frames, want 2", got)
	}

	// malformed command text
	rec = postForm(t, mux, "/command", url.Values{"command": {"move fast"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad command = %d, want 400", rec.Code)
	}

	// missing command
	rec = postForm(t, mux, "/command", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty command = %d, want 400", rec.Code)
	}
}

func TestConnectDisconnectEndpoints(t *testing.T) {
	srv, sup, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	rec := postForm(t, mux, "/connect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect = %d, want 200: %s", rec.Code, rec.Body)
	}
	if sup.State() != supervisor.StateConnected {
		t.Fatalf("state = %s, want connected", sup.State())
	}

	// connecting twice conflicts
	rec = postForm(t, mux, "/connect", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second connect = %d, want 409", rec.Code)
	}

	rec = postForm(t, mux, "/disconnect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect = %d, want 200: %s", rec.Code, rec.Body)
	}
	if sup.State() != supervisor.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", sup.State())
	}
}

func TestResetStatsEndpoint(t *testing.T) {
	srv, sup, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	if err := sup.Connect(); err != nil {
		t.Fatal(err)
	}
	rec := postForm(t, mux, "/command", url.Values{"command": {"home"}})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sup.Statistics().SentCount == 0 {
		time.Sleep(time.Millisecond)
	}

	rec = postForm(t, mux, "/reset-stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-stats = %d, want 200", rec.Code)
	}
	if snap := sup.Statistics(); snap.SentCount != 0 || snap.RejectedCount != 0 {
		t.Errorf("counters not zeroed: %+v", snap)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	srv, sup, _ := newTestServer(t, store)
	mux := srv.ServeMux()

	if err := sup.Connect(); err != nil {
		t.Fatal(err)
	}
	rec := postForm(t, mux, "/command", url.Values{"command": {"cut 10 10"}})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sup.Statistics().SentCount == 0 {
		time.Sleep(time.Millisecond)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp historyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Transitions) == 0 {
		t.Error("no transitions recorded")
	}
	if len(resp.Commands) != 1 || resp.Commands[0].Text != "cut x=10 y=10" {
		t.Errorf("commands = %+v, want one cut record", resp.Commands)
	}

	// invalid limit
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", rec.Code)
	}
}

func TestHistoryWithoutEventLog(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("history without log = %d, want 404", rec.Code)
	}
}
