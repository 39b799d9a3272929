package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/locket/internal/anchor"
	"github.com/roach88/locket/internal/metrics"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 2 << 20

// Server serves the control-plane API over a Ledger.
type Server struct {
	ledger   *Ledger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	now      func() time.Time
	newID    func() string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request and asset counters on m and exposes g on
// GET /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithRateLimit limits the write endpoints to rps requests per second with
// the given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAssetIDGenerator replaces the generator of missing asset ids.
func WithAssetIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// NewServer creates a Server. Write endpoints default to 50 req/s, burst 100.
func NewServer(ledger *Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:  ledger,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(50, 100),
		now:     time.Now,
		newID:   func() string { return "asset-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed and logged HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+anchor.PathHealth, s.handleHealth)
	mux.HandleFunc("POST "+anchor.PathAnchor, rateLimited(s.limiter, s.handleAnchor))
	mux.HandleFunc("POST "+anchor.PathAnchorBatch, rateLimited(s.limiter, s.handleAnchorBatch))
	mux.HandleFunc("GET "+anchor.PathVerify+"{assetId}", s.handleVerify)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return requestLogger(s.logger, s.metrics.GatewayRequest)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		s.logger.Info("gateway stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, anchor.HealthResponse{
		Status:    "OK",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchor.AnchorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, NewAppError(http.StatusBadRequest, err.Error(), err))
		return
	}
	if strings.TrimSpace(req.UserDID) == "" || strings.TrimSpace(req.DataHash) == "" {
		s.writeError(w, r, NewAppError(http.StatusBadRequest, "Missing userDID or dataHash", nil))
		return
	}

	assetID := s.newID()
	_, commit, err := s.ledger.CreateAsset(r.Context(), assetID, req.UserDID, req.DataHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.AssetsCreated(1)
	addField(r.Context(), "op", "anchor")
	addField(r.Context(), "asset_id", assetID)
	addField(r.Context(), "tx_id", commit.TxID)

	writeJSON(w, http.StatusCreated, anchor.AnchorResponse{
		Success:     true,
		AssetID:     assetID,
		TxID:        commit.TxID,
		BlockHeight: commit.BlockHeight,
	})
}

func (s *Server) handleAnchorBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assets *[]anchor.BatchItem `json:"assets"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, NewAppError(http.StatusBadRequest, err.Error(), err))
		return
	}
	if req.Assets == nil {
		s.writeError(w, r, NewAppError(http.StatusBadRequest, "Missing or invalid assets array", nil))
		return
	}

	items := make([]anchor.BatchItem, len(*req.Assets))
	for i, a := range *req.Assets {
		if strings.TrimSpace(a.UserDID) == "" || strings.TrimSpace(a.DataHash) == "" {
			s.writeError(w, r, NewAppError(http.StatusBadRequest,
				fmt.Sprintf("assets[%d]: missing userDID or dataHash", i), nil))
			return
		}
		if a.ID == "" {
			a.ID = s.newID()
		}
		items[i] = a
	}

	created, commit, err := s.ledger.CreateAssetBatch(r.Context(), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.AssetsCreated(len(created))
	addField(r.Context(), "op", "anchor_batch")
	addField(r.Context(), "items", len(items))
	addField(r.Context(), "created", len(created))
	addField(r.Context(), "tx_id", commit.TxID)

	results := make([]anchor.BatchResultItem, len(items))
	for i, it := range items {
		results[i] = anchor.BatchResultItem{AssetID: it.ID}
	}
	writeJSON(w, http.StatusCreated, anchor.BatchResponse{
		Success: true,
		TxID:    commit.TxID,
		Results: results,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("assetId")
	addField(r.Context(), "op", "verify")
	addField(r.Context(), "asset_id", assetID)
	asset, err := s.ledger.ReadAsset(r.Context(), assetID)
	if err != nil {
		// Clients only distinguish found from not found.
		s.writeError(w, r, NewAppError(http.StatusNotFound, "Asset not found or query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, ErrAssetNotFound):
		appErr = NewAppError(http.StatusNotFound, "Asset not found or query failed", err)
	case errors.Is(err, ErrAssetExists):
		appErr = NewAppError(http.StatusConflict, err.Error(), err)
	default:
		appErr = NewAppError(http.StatusInternalServerError, "internal server error", err)
	}
	addField(r.Context(), "error_message", appErr.Error())
	writeJSON(w, appErr.HTTPStatus, errorBody(appErr.Message))
}

func errorBody(msg string) anchor.ErrorResponse {
	return anchor.ErrorResponse{Error: msg}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
