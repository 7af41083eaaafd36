package gc

import "github.com/convergeio/converge/api/server/router"

// gcRouter is a router to talk with the garbage collection backend.
type gcRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new gc router
func NewRouter(b Backend) router.Router {
	r := &gcRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the gc controller
func (r *gcRouter) Routes() []router.Route {
	return r.routes
}

func (r *gcRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewPostRoute("/repos/{name}/gc", r.postGC),
	}
}
