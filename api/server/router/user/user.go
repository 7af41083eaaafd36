package user

import "github.com/convergeio/converge/api/server/router"

// userRouter is a router to talk with the identity backend.
type userRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new user router
func NewRouter(b Backend) router.Router {
	r := &userRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the user controller
func (r *userRouter) Routes() []router.Route {
	return r.routes
}

func (r *userRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewGetRoute("/users", r.getUsers),
		router.NewPostRoute("/users", r.postUser),
		router.NewGetRoute("/users/{id}/tokens", r.getUserTokens),
		router.NewPostRoute("/users/{id}/tokens", r.postUserToken),
		router.NewGetRoute("/tokens", r.getTokens),
		router.NewPostRoute("/tokens", r.postToken),
		router.NewPostRoute("/tokens/{id}/revoke", r.postTokenRevoke),
	}
}
