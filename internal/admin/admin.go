// Package admin is the admin surface: list/add/delete of nodes and a
// metrics snapshot, exposed as HTTP handlers over chi.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
)

// NodeView is the JSON shape returned by the list endpoint.
type NodeView struct {
	ID       node.ID `json:"id"`
	Endpoint string  `json:"endpoint"`
	Health   string  `json:"health"`
}

// PerNodeMetric is one row of the metrics snapshot.
type PerNodeMetric struct {
	ID        node.ID `json:"id"`
	Endpoint  string  `json:"endpoint"`
	Health    string  `json:"health"`
	Available bool    `json:"available"`
}

// MetricsSnapshot summarizes the registry's current node counts and
// per-node health for operators polling outside of Prometheus.
type MetricsSnapshot struct {
	Total       int             `json:"total"`
	Available   int             `json:"available"`
	Unavailable int             `json:"unavailable"`
	PerNode     []PerNodeMetric `json:"perNode"`
}

// addRequest is the body of POST /admin/nodes.
type addRequest struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Surface wires the node registry behind the admin HTTP contract. No
// authentication is required at this layer.
type Surface struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// New builds an admin Surface over reg.
func New(reg *registry.Registry, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{reg: reg, logger: logger}
}

// Routes mounts the admin endpoints on r.
func (s *Surface) Routes(r chi.Router) {
	r.Get("/nodes", s.listNodes)
	r.Post("/nodes", s.addNode)
	r.Delete("/nodes/{id}", s.deleteNode)
	r.Get("/metrics", s.metricsSnapshot)
}

func (s *Surface) listNodes(w http.ResponseWriter, r *http.Request) {
	all := s.reg.FindAll()
	views := make([]NodeView, 0, len(all))
	for _, n := range all {
		views = append(views, NodeView{ID: n.ID, Endpoint: n.Endpoint.URL(), Health: n.Status.String()})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Surface) addNode(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ep := node.Endpoint{Scheme: node.SchemeHTTP, Host: req.Host, Port: req.Port}
	if req.ID == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "id and host are required")
		return
	}
	if err := ep.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := node.New(node.ID(req.ID), ep, node.SourceAdmin, time.Now())
	s.reg.Save(n)
	s.logger.Info("admin node added", zap.String("node_id", req.ID), zap.String("action", "add"))
	writeJSON(w, http.StatusCreated, NodeView{ID: n.ID, Endpoint: n.Endpoint.URL(), Health: n.Status.String()})
}

func (s *Surface) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := node.ID(chi.URLParam(r, "id"))
	if !s.reg.Delete(id) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	s.logger.Info("admin node deleted", zap.String("node_id", string(id)), zap.String("action", "delete"))
	w.WriteHeader(http.StatusOK)
}

func (s *Surface) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	all := s.reg.FindAll()
	snap := MetricsSnapshot{PerNode: make([]PerNodeMetric, 0, len(all))}
	for _, n := range all {
		snap.Total++
		available := n.Status.IsUsable()
		if available {
			snap.Available++
		} else {
			snap.Unavailable++
		}
		snap.PerNode = append(snap.PerNode, PerNodeMetric{
			ID:        n.ID,
			Endpoint:  n.Endpoint.URL(),
			Health:    n.Status.String(),
			Available: available,
		})
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
