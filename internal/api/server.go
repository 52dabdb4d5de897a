package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tickergraph/internal/graph"
	"tickergraph/internal/persistence"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPushInterval = 10 * time.Second
	defaultLimit        = 50
	maxLimit            = 1000
	writeWait           = 10 * time.Second
)

// OpportunityReader lists stored opportunities. *persistence.Store
// satisfies it.
type OpportunityReader interface {
	RecentOpportunities(ctx context.Context, limit int) ([]persistence.OpportunityRecord, error)
}

// ExchangeSummary is one row of /api/exchanges.
type ExchangeSummary struct {
	Exchange string `json:"exchange"`
	Nodes    int    `json:"nodes"`
	Edges    int    `json:"edges"`
	Cycles   int    `json:"cycles"`
	Negative int    `json:"negative"`
}

// Server exposes read-only graph state over HTTP and streams snapshots to
// websocket clients.
type Server struct {
	manager  *graph.Manager
	store    OpportunityReader
	interval time.Duration
	upgrader websocket.Upgrader

	server *http.Server
}

// NewServer creates an API server. store may be nil, in which case
// /api/opportunities answers 503.
func NewServer(manager *graph.Manager, store OpportunityReader, interval time.Duration) *Server {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	return &Server{
		manager:  manager,
		store:    store,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the routes served by the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/exchanges", s.handleExchanges)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/opportunities", s.handleOpportunities)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves the API on port in the background.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges := s.manager.Exchanges()
	out := make([]ExchangeSummary, 0, len(exchanges))
	for _, name := range exchanges {
		g, ok := s.manager.Graph(name)
		if !ok {
			continue
		}
		cycles := g.Cycles()
		negative := 0
		for _, c := range cycles {
			if c.IsNegative() {
				negative++
			}
		}
		out = append(out, ExchangeSummary{
			Exchange: name,
			Nodes:    g.NumNodes(),
			Edges:    g.NumEdges(),
			Cycles:   len(cycles),
			Negative: negative,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, status, err := s.snapshot(r.URL.Query().Get("exchange"))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	records, err := s.store.RecentOpportunities(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query opportunities")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []persistence.OpportunityRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleWebSocket pushes a snapshot of one exchange immediately and then
// every interval until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if _, status, err := s.snapshot(exchange); err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine notices client close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		snap, _, err := s.snapshot(exchange)
		if err != nil {
			log.Warn().Err(err).Str("exchange", exchange).Msg("Failed to build snapshot")
		} else {
			if err := writeFrame(conn, snap); err != nil {
				log.Debug().Err(err).Msg("Failed to write to WebSocket")
				return
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) snapshot(exchange string) (*graph.Snapshot, int, error) {
	if exchange == "" {
		return nil, http.StatusBadRequest, errors.New("exchange is required")
	}
	snap, ok := s.manager.Snapshot(exchange)
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("unknown exchange %q", exchange)
	}
	return snap, http.StatusOK, nil
}

// encodeJSON writes v without HTML escaping so cycle paths keep their "->".
func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encodeJSON(w, v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

// writeFrame sends v as one websocket text frame.
func writeFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := encodeJSON(w, v); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
