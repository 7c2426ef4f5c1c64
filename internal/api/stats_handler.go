package api

import (
	"net/http"
)

// GetPoolStats возвращает сводку по очереди, worker-слотам и прокси.
// GET /api/v1/stats/pool
func (h *Handler) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	Success(w, h.orch.PoolStats())
}

// GetProxyStats возвращает статистику всех прокси пула.
// GET /api/v1/stats/proxies
func (h *Handler) GetProxyStats(w http.ResponseWriter, r *http.Request) {
	proxies := h.orch.ProxyStats()
	List(w, proxies, len(proxies))
}

// Health — liveness-проба.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.orch.IsStopped() {
		Unavailable(w, "orchestrator is shutting down")
		return
	}
	Success(w, map[string]string{"status": "ok"})
}
