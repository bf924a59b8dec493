package preview

import (
	"encoding/json"
	"net/http"
)

// placeholderPage is shown until a document exists. It frames /document and
// reloads the frame whenever the artifact changes.
const placeholderPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>webforge preview</title>
<style>
html,body{margin:0;height:100%;font-family:system-ui,sans-serif}
#status{padding:6px 12px;background:#222;color:#eee;font-size:13px}
#status.error{background:#8b1e1e}
iframe{border:0;width:100%;height:calc(100% - 30px)}
</style>
</head>
<body>
<div id="status">Waiting for a generation...</div>
<iframe id="frame" src="/document"></iframe>
<script>
const status = document.getElementById("status");
const frame = document.getElementById("frame");
function show(s) {
  if (!s) return;
  status.textContent = s.error ? s.status + ": " + s.error : s.status + (s.message ? ": " + s.message : "");
  status.className = s.status === "error" ? "error" : "";
}
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (m) => {
    const ev = JSON.parse(m.data);
    if (ev.type === "connection_status") show(ev.data.state);
    if (ev.type === "status_changed") show(ev.data);
    if (ev.type === "generation_status") status.textContent = "loading: " + ev.data.message;
    if (ev.type === "artifact_updated") frame.src = "/document?t=" + Date.now();
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`

// emptyDocument is served at /document before anything was generated.
const emptyDocument = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Nothing yet</title></head>
<body style="font-family:system-ui,sans-serif;color:#666;padding:2rem">
<p>Your website will appear here once it has been generated.</p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(placeholderPage))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	doc := s.source.Artifact().Document
	if doc == "" {
		doc = emptyDocument
	}
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.countConnections(),
	})
}

func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	a := s.source.Artifact()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        s.source.State(),
		"kind":         a.Kind,
		"has_document": !a.IsEmpty(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
