// Package api is the HTTP surface of a gateway: it lets operators issue
// Top-K and sensor queries rooted at this gateway and inspect its state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/healthrank/internal/aggregation"
	"github.com/healthrank/internal/models"
	"github.com/healthrank/internal/protocol"
	"github.com/healthrank/internal/score"
	"github.com/healthrank/internal/topk"
	"github.com/healthrank/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway runs queries that originate at this gateway.
type Gateway interface {
	Query(ctx context.Context, q protocol.TopKQuery) aggregation.Outcome
	Discover(ctx context.Context) []string
}

// Children lists the known child gateways.
type Children interface {
	List() []string
}

type TopKRequest struct {
	ID             string             `json:"id,omitempty"`
	K              int                `json:"k"`
	FunctionHealth []models.Criterion `json:"functionHealth"`
	Devices        []string           `json:"devices,omitempty"`
}

type TopKResponse struct {
	ID       string       `json:"id"`
	Devices  []topk.Entry `json:"devices"`
	Notice   string       `json:"notice,omitempty"`
	TimedOut bool         `json:"timedOut"`
	Duration int64        `json:"duration_ms"`
}

type Service struct {
	nodeID   string
	gateway  Gateway
	children Children
	hub      *websocket.Hub
	gatherer prometheus.Gatherer
}

// New builds the API. hub and gatherer may be nil.
func New(nodeID string, gw Gateway, children Children, hub *websocket.Hub, gatherer prometheus.Gatherer) *Service {
	return &Service{nodeID: nodeID, gateway: gw, children: children, hub: hub, gatherer: gatherer}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/topk", s.handleTopK)
	mux.HandleFunc("GET /sensors", s.handleSensors)
	mux.HandleFunc("GET /topology", s.handleTopology)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		mux.HandleFunc("/ws", s.handleWebSocket)
		mux.HandleFunc("GET /ws/stats", s.handleWebSocketStats)
	}
	return mux
}

// StartHTTP serves the API until the listener fails.
func (s *Service) StartHTTP(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("[%s][API] HTTP listening on %s", s.nodeID, addr)
	if s.hub != nil {
		log.Printf("[%s][API] WebSocket available at ws://localhost:%d/ws", s.nodeID, port)
	}
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Service) handleTopK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var req TopKRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.K < 0 {
		http.Error(w, "k must not be negative", http.StatusBadRequest)
		return
	}
	if req.K > 0 {
		if err := score.ValidateCriteria(req.FunctionHealth); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	out := s.gateway.Query(r.Context(), protocol.TopKQuery{
		ID:             req.ID,
		K:              req.K,
		FunctionHealth: req.FunctionHealth,
		Devices:        req.Devices,
	})

	resp := TopKResponse{
		ID:       out.ID,
		Devices:  out.Result,
		TimedOut: out.TimedOut,
		Duration: time.Since(start).Milliseconds(),
	}
	if resp.Devices == nil {
		resp.Devices = []topk.Entry{}
	}
	if out.Insufficient {
		resp.Notice = out.Notice()
	}
	writeJSON(w, resp)
}

func (s *Service) handleSensors(w http.ResponseWriter, r *http.Request) {
	types := s.gateway.Discover(r.Context())
	if types == nil {
		types = []string{}
	}
	writeJSON(w, protocol.SensorResult{Sensors: types})
}

func (s *Service) handleTopology(w http.ResponseWriter, r *http.Request) {
	children := s.children.List()
	writeJSON(w, map[string]interface{}{
		"node_id":  s.nodeID,
		"children": children,
		"count":    len(children),
	})
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log.Printf("[WebSocket] New connection request from %s", r.RemoteAddr)
	s.hub.ServeWS(w, r)
}

func (s *Service) handleWebSocketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"connected_clients": s.hub.ClientCount(),
		"timestamp":         time.Now().Unix(),
		"status":            "active",
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
