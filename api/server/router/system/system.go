package system

import (
	"net/http"

	metrics "github.com/docker/go-metrics"

	"github.com/convergeio/converge/api/server/router"
)

// systemRouter provides the health, bootstrap and identity echo routes,
// plus the Prometheus scrape endpoint when metrics are enabled.
type systemRouter struct {
	backend Backend
	routes  []router.Route
	metrics http.Handler
}

// NewRouter initializes a new system router
func NewRouter(b Backend, enableMetrics bool) router.Router {
	r := &systemRouter{backend: b}
	if enableMetrics {
		r.metrics = metrics.Handler()
	}
	r.initRoutes()
	return r
}

// Routes returns all the API routes dedicated to the converge system
func (s *systemRouter) Routes() []router.Route {
	return s.routes
}

func (s *systemRouter) initRoutes() {
	s.routes = []router.Route{
		router.NewGetRoute("/healthz", s.getHealth),
		router.NewPostRoute("/bootstrap", s.postBootstrap),
		router.NewGetRoute("/whoami", s.getWhoAmI),
	}
	if s.metrics != nil {
		s.routes = append(s.routes, router.NewGetRoute("/metrics", s.serveMetrics))
	}
}
