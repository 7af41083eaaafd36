package release

import "github.com/convergeio/converge/api/server/router"

// releaseRouter is a router to talk with the release backend.
type releaseRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new release router
func NewRouter(b Backend) router.Router {
	r := &releaseRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the release controller
func (r *releaseRouter) Routes() []router.Route {
	return r.routes
}

func (r *releaseRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewGetRoute("/repos/{name}/releases", r.getReleases),
		router.NewPostRoute("/repos/{name}/releases", r.postRelease),
		router.NewGetRoute("/repos/{name}/releases/{channel}", r.getChannelHead),
	}
}
