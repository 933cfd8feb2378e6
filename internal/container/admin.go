package container

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// newAdminHandler 管理端口：/metrics、/healthz、/stats，只读
func (c *Container) newAdminHandler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", c.monitor.Handler()).Methods("GET")
	router.HandleFunc("/healthz", c.handleHealth).Methods("GET")
	router.HandleFunc("/stats", c.handleStats).Methods("GET")

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}).Handler(router)
}

func (c *Container) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", State: c.dispatcher.State().String()}
	status := http.StatusOK
	if err := c.HealthCheck(); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (c *Container) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, c.dispatcher.Stats())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
