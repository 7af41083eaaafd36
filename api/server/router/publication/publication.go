package publication

import "github.com/convergeio/converge/api/server/router"

// publicationRouter is a router to talk with the publication backend.
type publicationRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new publication router
func NewRouter(b Backend) router.Router {
	r := &publicationRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the publication controller
func (r *publicationRouter) Routes() []router.Route {
	return r.routes
}

func (r *publicationRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewGetRoute("/repos/{name}/publications", r.getPublications),
		router.NewPostRoute("/repos/{name}/publications", r.postPublication),
		router.NewGetRoute("/repos/{name}/bundles", r.getBundles),
		router.NewPostRoute("/repos/{name}/bundles", r.postBundle),
		router.NewGetRoute("/repos/{name}/bundles/{id}", r.getBundle),
		router.NewPostRoute("/repos/{name}/bundles/{id}/approve", r.postBundleApprove),
		router.NewPostRoute("/repos/{name}/bundles/{id}/pin", r.postBundlePin),
		router.NewPostRoute("/repos/{name}/bundles/{id}/unpin", r.postBundleUnpin),
		router.NewGetRoute("/repos/{name}/pins", r.getPins),
		router.NewGetRoute("/repos/{name}/promotions", r.getPromotions),
		router.NewPostRoute("/repos/{name}/promotions", r.postPromotion),
		router.NewGetRoute("/repos/{name}/promotion-state", r.getPromotionState),
	}
}
