package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termbridge/internal/config"
	"termbridge/internal/server"
	"termbridge/internal/session"
	"termbridge/internal/termio"
	"termbridge/internal/worker"
)

type localLauncher struct {
	runTimeout time.Duration
}

func (l *localLauncher) Launch(ctx context.Context, seg *termio.Segment) (session.Worker, error) {
	timeout := l.runTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	w := worker.New(seg, worker.Options{
		PollInterval: time.Millisecond,
		RunTimeout:   timeout,
	})
	return &localWorker{w: w}, nil
}

type localWorker struct{ w *worker.Worker }

func (lw *localWorker) Run(ctx context.Context, source string) (session.Reply, error) {
	return lw.w.RunProgram(ctx, source), nil
}

func (lw *localWorker) Close() error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Bridge.SegmentDir = t.TempDir()
	cfg.Bridge.OutputRingSize = termio.MinRingDataSize
	cfg.Bridge.InputRingSize = termio.MinRingDataSize
	cfg.Bridge.PollInterval = time.Millisecond
	st := session.NewStore(cfg, &localLauncher{runTimeout: time.Minute})
	srv := server.NewServer(cfg, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		st.Close()
	})
	return ts
}

func skipWithoutSegments(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.seg")
	seg, err := termio.CreateSegment(path, termio.MinRingDataSize, termio.MinRingDataSize)
	if errors.Is(err, termio.ErrUnsupported) {
		t.Skip("file-backed segments unsupported on this platform")
	}
	require.NoError(t, err)
	seg.Close()
	seg.Unlink()
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	res, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer res.Body.Close()
	var decoded map[string]any
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return res, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	var decoded map[string]any
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return res, decoded
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res, body := postJSON(t, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	id, ok := body["id"].(string)
	require.True(t, ok, "create response missing id: %v", body)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, body := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "termbridge_")
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "termbridge")
	assert.Contains(t, string(data), "/api/sessions")
}

func TestSessionLifecycleAPI(t *testing.T) {
	ts := newTestServer(t)

	id := createSession(t, ts)

	res, body := getJSON(t, ts.URL+"/api/sessions")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	res, body = getJSON(t, ts.URL+"/api/sessions/"+id)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "uninitialized", body["state"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusNoContent, res2.StatusCode)

	res, _ = getJSON(t, ts.URL+"/api/sessions/"+id)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRunEndpoint(t *testing.T) {
	skipWithoutSegments(t)
	ts := newTestServer(t)
	id := createSession(t, ts)

	res, body := postJSON(t, ts.URL+"/api/sessions/"+id+"/run",
		map[string]string{"source": `term.write("api run")`})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", body["status"])

	res, _ = postJSON(t, ts.URL+"/api/sessions/"+id+"/run",
		map[string]string{"source": "   "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = postJSON(t, ts.URL+"/api/sessions/nope/run",
		map[string]string{"source": "print(1)"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRunConflict(t *testing.T) {
	skipWithoutSegments(t)
	ts := newTestServer(t)
	id := createSession(t, ts)

	done := make(chan map[string]any, 1)
	go func() {
		_, body := postJSON(t, ts.URL+"/api/sessions/"+id+"/run",
			map[string]string{"source": `while true do end`})
		done <- body
	}()

	var res *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, _ = postJSON(t, ts.URL+"/api/sessions/"+id+"/run",
			map[string]string{"source": "print(1)"})
		if res.StatusCode == http.StatusConflict || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res2, _ := postJSON(t, ts.URL+"/api/sessions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, res2.StatusCode)

	select {
	case body := <-done:
		assert.Equal(t, "cancelled", body["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not return")
	}
}

func TestSessionCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.SegmentDir = t.TempDir()
	cfg.Session.MaxSessions = 1
	st := session.NewStore(cfg, &localLauncher{})
	srv := server.NewServer(cfg, st)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer st.Close()

	createSession(t, ts)
	res, _ := postJSON(t, ts.URL+"/api/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func dialTerminal(t *testing.T, ts *httptest.Server, id string) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/terminal"
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, res
}

func TestTerminalWebSocket(t *testing.T) {
	skipWithoutSegments(t)
	ts := newTestServer(t)
	id := createSession(t, ts)

	conn, _ := dialTerminal(t, ts, id)
	require.NotNil(t, conn, "terminal dial failed")

	runDone := make(chan map[string]any, 1)
	go func() {
		_, body := postJSON(t, ts.URL+"/api/sessions/"+id+"/run", map[string]string{
			"source": `term.write("ping\n") local k = term.read_key() term.write("code=" .. k.code .. "\n")`,
		})
		runDone <- body
	}()

	var output strings.Builder
	sentKey := false
	sawCompleted := false
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for !sawCompleted {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err, "output so far: %q", output.String())
		switch kind {
		case websocket.BinaryMessage:
			output.Write(data)
		case websocket.TextMessage:
			var ev struct {
				Type  string `json:"type"`
				State string `json:"state"`
			}
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Type == "state" && ev.State == "completed" {
				sawCompleted = true
			}
		}
		if !sentKey && strings.Contains(output.String(), "ping\n") {
			require.NoError(t, conn.WriteJSON(map[string]any{
				"type": "key", "key_code": 88, "char": "X",
			}))
			sentKey = true
		}
	}

	assert.Contains(t, output.String(), "code=88\n")
	select {
	case body := <-runDone:
		assert.Equal(t, "ok", body["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestTerminalCancelFrame(t *testing.T) {
	skipWithoutSegments(t)
	ts := newTestServer(t)
	id := createSession(t, ts)

	conn, _ := dialTerminal(t, ts, id)
	require.NotNil(t, conn, "terminal dial failed")

	runDone := make(chan map[string]any, 1)
	go func() {
		_, body := postJSON(t, ts.URL+"/api/sessions/"+id+"/run",
			map[string]string{"source": `term.write("spinning\n") while true do end`})
		runDone <- body
	}()

	// Wait until the run is visibly producing before cancelling.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var output strings.Builder
	for !strings.Contains(output.String(), "spinning\n") {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind == websocket.BinaryMessage {
			output.Write(data)
		}
	}
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "cancel"}))

	select {
	case body := <-runDone:
		assert.Equal(t, "cancelled", body["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not return")
	}
}

func TestTerminalSeatConflict(t *testing.T) {
	skipWithoutSegments(t)
	ts := newTestServer(t)
	id := createSession(t, ts)

	conn, _ := dialTerminal(t, ts, id)
	require.NotNil(t, conn, "first terminal dial failed")

	second, res := dialTerminal(t, ts, id)
	assert.Nil(t, second, "second terminal should be refused")
	require.NotNil(t, res)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	// Releasing the seat makes it claimable again.
	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		retry, _ := dialTerminal(t, ts, id)
		if retry != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("seat never freed after first terminal closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTerminalUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	conn, res := dialTerminal(t, ts, "nope")
	assert.Nil(t, conn)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
