package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr   string   `json:"http_addr"`
	CollabFile string   `json:"collab_file"`
	WebDir     string   `json:"web_dir"`
	Agents     []string `json:"agents"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Info          DiagnosticsInfo `json:"info"`
	Hub           map[string]any  `json:"hub"`
	Log           map[string]any  `json:"log"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() && s.Engine != nil {
		started = s.Engine.Started()
	}
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started.UTC(),
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Info:          s.Info,
		Hub:           map[string]any{},
		Log:           map[string]any{},
	}
	if s.Engine != nil {
		resp.Hub["subscribers"] = s.Engine.Hub().SubscriberCount()
		resp.Log["path"] = s.Engine.Path()
		resp.Log["offset"] = s.Engine.Tailer().Offset()
		resp.Log["loaded"] = s.Engine.Tailer().Loaded()
		resp.Log["events"] = s.Engine.Store().Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
