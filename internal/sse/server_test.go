package sse

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpmux/mcpx/internal/config"
	"github.com/mcpmux/mcpx/internal/logging"
	"github.com/mcpmux/mcpx/internal/proxy"
)

func newTestSSEServer(t *testing.T) *Server {
	t.Helper()
	core := proxy.New(&config.Config{Servers: map[string]config.ServerSpec{}}, logging.NewStderr("test", logging.LevelSilent), time.Now())
	tokenPath := filepath.Join(t.TempDir(), "token")
	s, err := New(core, logging.NewStderr("test", logging.LevelSilent), "127.0.0.1:0", tokenPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHandleMessageRejectsUnauthorized(t *testing.T) {
	s := newTestSSEServer(t)
	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=nope", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	s.handleMessage(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleMessageRejectsUnknownSession(t *testing.T) {
	s := newTestSSEServer(t)
	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=nope", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+s.Token)
	rec := httptest.NewRecorder()

	s.handleMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMessageAcceptsKnownSessionAndDispatches(t *testing.T) {
	s := newTestSSEServer(t)
	sess := s.sessions.begin("sess-1", time.Now())

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=sess-1", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Authorization", "Bearer "+s.Token)
	rec := httptest.NewRecorder()

	s.handleMessage(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case frame := <-sess.outbound:
		var resp struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(frame, &resp); err != nil {
			t.Fatalf("unmarshal dispatched frame: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispatched response frame")
	}
}

func TestSessionEndPropagatesCancellationToCore(t *testing.T) {
	s := newTestSSEServer(t)
	sess := s.sessions.begin("sess-1", time.Now())

	reqID := json.RawMessage(`"1"`)
	checkCancelled, done := s.Core.TrackCancellable(reqID)
	defer done()
	sess.trackRequest(string(reqID))

	for _, rid := range s.sessions.end("sess-1") {
		s.Core.Cancel(json.RawMessage(rid))
	}

	if !checkCancelled() {
		t.Fatal("expected ending the session to cancel its in-flight request on the proxy core")
	}
}

func TestCorsMiddlewareHandlesPreflight(t *testing.T) {
	s := newTestSSEServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/message", s.handleMessage)
	handler := s.corsMiddleware(mux)

	req := httptest.NewRequest(http.MethodOptions, "/message", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS allow-origin header")
	}
}

func TestHandleSSEStreamsEndpointEvent(t *testing.T) {
	s := newTestSSEServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleSSE))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading event line: %v", err)
	}
	if strings.TrimSpace(line) != "event: endpoint" {
		t.Fatalf("first SSE line = %q, want %q", line, "event: endpoint")
	}
	dataLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading data line: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(dataLine), "data: /message?sessionId=") {
		t.Fatalf("unexpected data line: %q", dataLine)
	}
}

func TestHandleSSERejectsUnauthorized(t *testing.T) {
	s := newTestSSEServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()

	s.handleSSE(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestQueryParamSessionIDRoundtrips(t *testing.T) {
	u, err := url.Parse("/message?sessionId=abc-123")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if got := u.Query().Get("sessionId"); got != "abc-123" {
		t.Fatalf("sessionId = %q, want abc-123", got)
	}
}
