package object

import "github.com/convergeio/converge/api/server/router"

// objectRouter is a router to talk with the content-addressed object backend.
type objectRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new object router
func NewRouter(b Backend) router.Router {
	r := &objectRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the object controller
func (r *objectRouter) Routes() []router.Route {
	return r.routes
}

func (r *objectRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewPutRoute("/repos/{name}/objects/blobs/{id}", r.putBlob),
		router.NewGetRoute("/repos/{name}/objects/blobs/{id}", r.getBlob),
		router.NewPutRoute("/repos/{name}/objects/manifests/{id}", r.putManifest),
		router.NewGetRoute("/repos/{name}/objects/manifests/{id}", r.getManifest),
		router.NewPutRoute("/repos/{name}/objects/recipes/{id}", r.putRecipe),
		router.NewGetRoute("/repos/{name}/objects/recipes/{id}", r.getRecipe),
		router.NewPutRoute("/repos/{name}/objects/snaps/{id}", r.putSnap),
		router.NewGetRoute("/repos/{name}/objects/snaps/{id}", r.getSnap),
		router.NewPostRoute("/repos/{name}/objects/missing", r.postMissing),
	}
}
