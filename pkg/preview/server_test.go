package preview

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alantheprice/webforge/pkg/artifact"
	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/status"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	art   artifact.Artifact
	state status.State
}

func (f *fakeSource) Artifact() artifact.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.art
}

func (f *fakeSource) State() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) set(a artifact.Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.art = a
}

func newPreview(t *testing.T) (*fakeSource, *events.EventBus, *httptest.Server) {
	t.Helper()
	src := &fakeSource{state: status.State{Status: status.StatusReady}}
	bus := events.NewEventBus()
	srv := httptest.NewServer(NewServer(src, bus))
	t.Cleanup(srv.Close)
	return src, bus, srv
}

func get(t *testing.T, url string) (int, string, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func TestIndexServesShell(t *testing.T) {
	_, _, srv := newPreview(t)

	code, ctype, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "text/html; charset=utf-8", ctype)
	assert.Contains(t, body, `<iframe id="frame" src="/document">`)
	assert.Contains(t, body, `"/ws"`)
}

func TestDocumentFollowsArtifact(t *testing.T) {
	src, _, srv := newPreview(t)

	_, _, body := get(t, srv.URL+"/document")
	assert.Contains(t, body, "Your website will appear here")

	a, err := artifact.Assemble(generation.CompleteEvent{
		Kind:    generation.KindHTML,
		Payload: generation.Payload{Primary: "<h1>Coffee</h1>"},
	})
	require.NoError(t, err)
	src.set(a)

	_, _, body = get(t, srv.URL+"/document")
	assert.Equal(t, a.Document, body)
}

func TestAPIState(t *testing.T) {
	src, _, srv := newPreview(t)
	src.set(artifact.Artifact{Kind: generation.KindCSS, Document: "<html></html>"})

	code, _, body := get(t, srv.URL+"/api/state")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		State       status.State `json:"state"`
		Kind        string       `json:"kind"`
		HasDocument bool         `json:"has_document"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, status.StatusReady, got.State.Status)
	assert.Equal(t, "css", got.Kind)
	assert.True(t, got.HasDocument)
}

func TestHealth(t *testing.T) {
	_, _, srv := newPreview(t)
	code, _, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, body)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketForwardsBusEvents(t *testing.T) {
	_, bus, srv := newPreview(t)
	conn := dial(t, srv)

	hello := readEvent(t, conn)
	assert.Equal(t, "connection_status", hello["type"])
	state := hello["data"].(map[string]interface{})["state"].(map[string]interface{})
	assert.Equal(t, "ready", state["status"])

	bus.Publish(events.EventTypeStatusChanged, events.StatusChangedEvent("ready", "loading", "Generating HTML...", ""))
	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTypeStatusChanged, ev["type"])
	assert.Equal(t, "loading", ev["data"].(map[string]interface{})["status"])

	bus.Publish(events.EventTypeArtifactUpdated, events.ArtifactUpdatedEvent("html", "<html></html>"))
	ev = readEvent(t, conn)
	assert.Equal(t, events.EventTypeArtifactUpdated, ev["type"])
}

func TestWebSocketPingAndState(t *testing.T) {
	_, _, srv := newPreview(t)
	conn := dial(t, srv)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "request_state"}))
	assert.Equal(t, "state", readEvent(t, conn)["type"])
}

func TestDisconnectUnsubscribes(t *testing.T) {
	_, bus, srv := newPreview(t)
	conn := dial(t, srv)
	readEvent(t, conn)
	assert.Equal(t, 1, bus.SubscriberCount())

	conn.Close()
	assert.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
