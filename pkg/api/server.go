package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/otcmatch/pkg/metrics"
	"github.com/uhyunpark/otcmatch/pkg/node"
	"github.com/uhyunpark/otcmatch/pkg/offer"
	"github.com/uhyunpark/otcmatch/pkg/storage"
)

const (
	defaultMatchLimit = 50
	maxMatchLimit     = 1000
	maxBodyBytes      = 1 << 16

	// Offer terms beyond these bounds are rejected before they reach
	// canonical formatting, which expands the exponent into digits.
	maxExponent        = 64
	maxCoefficientBits = 256
)

// Server exposes a node over REST and a WebSocket event feed.
type Server struct {
	node    *node.Node
	hub     *Hub
	metrics *metrics.Metrics
	router  *mux.Router
	origins []string
	log     *zap.SugaredLogger
}

type ServerConfig struct {
	Node           *node.Node
	Hub            *Hub             // the hub passed to the node as Hooks
	Metrics        *metrics.Metrics // nil disables /metrics
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	s := &Server{
		node:    cfg.Node,
		hub:     cfg.Hub,
		metrics: cfg.Metrics,
		router:  mux.NewRouter(),
		origins: cfg.AllowedOrigins,
		log:     cfg.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/offers", s.handleCreateOffer).Methods("POST")
	api.HandleFunc("/offers", s.handleListOffers).Methods("GET")
	api.HandleFunc("/keys/{key}", s.handleDecodeKey).Methods("GET")
	api.HandleFunc("/matches", s.handleListMatches).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Serve runs the hub and the HTTP server until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := offer.ParseSide(strings.ToUpper(req.Side))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	if !inRange(req.Quantity) {
		respondError(w, http.StatusBadRequest, "invalid quantity", "out of range")
		return
	}
	if !inRange(req.Price) {
		respondError(w, http.StatusBadRequest, "invalid price", "out of range")
		return
	}

	o := offer.New(side, req.Quantity, req.Price)
	h := s.node.CreateOffer(o)
	if h == 0 {
		respondError(w, http.StatusServiceUnavailable, "node is shutting down", "")
		return
	}
	s.log.Debugw("api_offer_created", "handle", uint64(h), "key", offer.Key(o))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateOfferResponse{Handle: uint64(h), Key: offer.Key(o)})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	entries := s.node.OpenOffers()
	out := make([]OfferInfo, len(entries))
	for i, e := range entries {
		out[i] = OfferInfo{
			Handle:   uint64(e.Handle),
			Side:     e.Offer.Side.String(),
			Quantity: e.Offer.Quantity.String(),
			Price:    e.Offer.Price.String(),
			Key:      offer.Key(e.Offer),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleDecodeKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	o, err := offer.ParseKey(key)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed key", err.Error())
		return
	}
	respondJSON(w, KeyInfo{
		Key:        key,
		Side:       o.Side.String(),
		Quantity:   o.Quantity.String(),
		Price:      o.Price.String(),
		Complement: offer.Key(o.Flip()),
	})
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultMatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxMatchLimit)
	}
	recs, err := s.node.Journal().Recent(limit)
	if err != nil {
		s.log.Errorw("journal_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "journal unavailable", err.Error())
		return
	}
	if recs == nil {
		recs = []storage.MatchRecord{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, NodeStatus{
		Status:     "ok",
		Peer:       string(s.node.ID()),
		OpenOffers: len(s.node.OpenOffers()),
	})
}

// ==============================
// Helper Functions
// ==============================

func inRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -maxExponent && exp <= maxExponent && d.Coefficient().BitLen() <= maxCoefficientBits
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
