// Package monitor exposes a running validation over HTTP: health and
// Prometheus endpoints, the chronogram as JSON, and a WebSocket feed
// that streams entries to a small embedded live view as they are
// scored.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/emihelj/cybathlon/internal/chrono"
)

// ChronogramResponse is the JSON shape of the chronogram endpoint.
type ChronogramResponse struct {
	Summary chrono.Summary `json:"summary"`
	Entries []chrono.Entry `json:"entries"`
}

// Server serves the monitoring surface for one decoder process.
type Server struct {
	chronogram *chrono.Log
	router     *mux.Router
	server     *http.Server
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	clientsMu  sync.RWMutex
	isRunning  bool
	mu         sync.RWMutex
}

// NewServer builds the monitor on the given port. It sets up HTTP
// routes and WebSocket handling and returns a ready-to-start server.
func NewServer(port int, chronogram *chrono.Log) *Server {
	s := &Server{
		chronogram: chronogram,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/chronogram", s.handleChronogram).Methods("GET")
	r.HandleFunc("/chronogram/live", s.handleLive).Methods("GET")
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections outlive any write deadline
	}

	return s
}

// Handler exposes the route table so tests can drive the server
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("monitor server is already running")
	}

	go func() {
		log.Info().
			Str("address", s.server.Addr).
			Msg("Starting monitor server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Monitor server failed")
		}
	}()

	s.isRunning = true
	return nil
}

// Stop disconnects all live clients and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Close all WebSocket connections
	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown monitor server")
		return err
	}

	s.isRunning = false
	log.Info().Msg("Monitor server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleChronogram serves the scored entries so far plus their summary.
func (s *Server) handleChronogram(w http.ResponseWriter, r *http.Request) {
	entries := s.chronogram.Entries()
	if entries == nil {
		entries = []chrono.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ChronogramResponse{
		Summary: chrono.Summarize(entries),
		Entries: entries,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to encode chronogram")
	}
}

// handleLive streams chronogram entries to a WebSocket client as they
// are appended. A slow client misses entries rather than stalling the
// run.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	feed, cancel := s.chronogram.Subscribe()
	defer cancel()

	// Reader pump: its only job is to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleIndex serves the live chronogram page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <title>Decoder - Live Chronogram</title>
    <meta charset="UTF-8">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
        .header h1 { margin: 0; font-size: 2em; text-align: center; }
        .scores { display: flex; gap: 20px; margin-bottom: 20px; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); flex: 1; }
        .card h3 { margin-top: 0; color: #333; border-bottom: 2px solid #eee; padding-bottom: 10px; }
        .score { font-size: 1.8em; font-weight: bold; text-align: center; }
        .entries-table { width: 100%; border-collapse: collapse; }
        .entries-table th, .entries-table td { text-align: left; padding: 8px; border-bottom: 1px solid #eee; }
        .entries-table th { background-color: #f8f9fa; font-weight: 600; }
        .hit { color: #28a745; font-weight: bold; }
        .miss { color: #dc3545; font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Live Chronogram</h1>
        </div>
        <div class="scores">
            <div class="card"><h3>Entries</h3><div class="score" id="entries">0</div></div>
            <div class="card"><h3>Balanced Accuracy</h3><div class="score" id="balanced-accuracy">-</div></div>
            <div class="card"><h3>Cohen's Kappa</h3><div class="score" id="kappa">-</div></div>
        </div>
        <div class="card">
            <h3>Events</h3>
            <table class="entries-table">
                <thead><tr><th>Time (s)</th><th>Truth</th><th>Predicted</th><th></th></tr></thead>
                <tbody id="entries-body"></tbody>
            </table>
        </div>
    </div>
    <script>
        function addEntry(e) {
            const row = document.createElement('tr');
            const hit = e.y_true === e.y_pred;
            row.innerHTML = '<td>' + e.ts.toFixed(3) + '</td><td>' + e.y_true + '</td><td>' + e.y_pred + '</td>' +
                '<td class="' + (hit ? 'hit' : 'miss') + '">' + (hit ? 'hit' : 'miss') + '</td>';
            document.getElementById('entries-body').appendChild(row);
        }

        function setScores(summary) {
            document.getElementById('entries').textContent = summary.entries;
            document.getElementById('balanced-accuracy').textContent = summary.balanced_accuracy.toFixed(3);
            document.getElementById('kappa').textContent = summary.kappa.toFixed(3);
        }

        fetch('/chronogram').then(r => r.json()).then(data => {
            setScores(data.summary);
            data.entries.forEach(addEntry);
        });

        const ws = new WebSocket('ws://' + window.location.host + '/chronogram/live');
        ws.onmessage = function(event) {
            addEntry(JSON.parse(event.data));
            fetch('/chronogram').then(r => r.json()).then(data => setScores(data.summary));
        };
    </script>
</body>
</html>
	`

	t, err := template.New("chronogram").Parse(tmpl)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	t.Execute(w, nil)
}
