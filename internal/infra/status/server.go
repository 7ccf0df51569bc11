package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mdp_go/internal/engine"
	"mdp_go/internal/service"
)

// StatusProvider is implemented by *engine.ChannelController.
type StatusProvider interface {
	Status() engine.ChannelStatus
}

// Server exposes channel status, the market board, prometheus metrics and
// the websocket event stream over HTTP.
type Server struct {
	addr     string
	channels []StatusProvider
	board    *service.MarketBoard
	hub      *Hub
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// NewServer wires the routes. gatherer may be nil to use the default registry.
func NewServer(addr string, hub *Hub, board *service.MarketBoard, gatherer prometheus.Gatherer, channels ...StatusProvider) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		addr:     addr,
		channels: channels,
		board:    board,
		hub:      hub,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /board", s.handleBoard)
	s.mux.HandleFunc("GET /board/{id}", s.handleBoardEntry)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /ws", hub.ServeWS)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server started", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusResponse struct {
	Channels    []engine.ChannelStatus `json:"channels"`
	Instruments int                    `json:"instruments"`
	WSClients   int                    `json:"ws_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Channels:  make([]engine.ChannelStatus, 0, len(s.channels)),
		WSClients: s.hub.Clients(),
	}
	for _, ch := range s.channels {
		resp.Channels = append(resp.Channels, ch.Status())
	}
	if s.board != nil {
		resp.Instruments = len(s.board.GetAllData())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBoard(w http.ResponseWriter, _ *http.Request) {
	entries := []service.BoardEntry{}
	if s.board != nil {
		entries = s.board.GetAllData()
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBoardEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid security id", http.StatusBadRequest)
		return
	}
	if s.board == nil {
		http.NotFound(w, r)
		return
	}
	entry, ok := s.board.GetData(int32(id))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}
