package viewer

import "net/http"

// Page serves the single-page viewer.
func Page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

const page = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Transcript Viewer</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.session { border: 1px solid #ccc; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.session h3 { margin: 0 0 .5rem; font-size: .9rem; color: #555; }
.completed { background: #f3faf3; }
</style>
</head>
<body>
<h1>Live transcripts</h1>
<div id="sessions"></div>
<script>
const sessions = {};
const root = document.getElementById("sessions");
function box(id) {
  if (!sessions[id]) {
    const div = document.createElement("div");
    div.className = "session";
    div.innerHTML = "<h3></h3><p></p>";
    div.querySelector("h3").textContent = id;
    root.prepend(div);
    sessions[id] = div;
  }
  return sessions[id];
}
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const p = ev.payload || {};
  if (ev.eventType === "interaction") {
    const env = p.envelope || {};
    const sid = (env.extras || {}).session_id || env.interaction_id;
    const div = box(sid);
    div.classList.add("completed");
    div.querySelector("p").textContent = (env.content || {}).text || "";
    return;
  }
  const div = box(p.sessionId || ev.key);
  const para = div.querySelector("p");
  para.textContent = (para.textContent + " " + (p.text || "")).trim();
};
</script>
</body>
</html>
`
