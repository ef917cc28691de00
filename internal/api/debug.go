package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServeDebug serves /metrics on its own port for processes that
// have no public HTTP surface.
func ListenAndServeDebug(port int) error {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), h)
}
