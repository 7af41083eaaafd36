package repo

import "github.com/convergeio/converge/api/server/router"

// repoRouter is a router to talk with the repo backend.
type repoRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new repo router
func NewRouter(b Backend) router.Router {
	r := &repoRouter{backend: b}
	r.initRoutes()
	return r
}

// Routes returns the available routes to the repo controller
func (r *repoRouter) Routes() []router.Route {
	return r.routes
}

func (r *repoRouter) initRoutes() {
	r.routes = []router.Route{
		router.NewGetRoute("/repos", r.getRepos),
		router.NewPostRoute("/repos", r.postRepo),
		router.NewGetRoute("/repos/{name}", r.getRepo),
		router.NewGetRoute("/repos/{name}/permissions", r.getPermissions),
		router.NewGetRoute("/repos/{name}/members", r.getMembers),
		router.NewPostRoute("/repos/{name}/members", r.postMember),
		router.NewDeleteRoute("/repos/{name}/members/{handle}", r.deleteMember),
		router.NewGetRoute("/repos/{name}/lanes", r.getLanes),
		router.NewPostRoute("/repos/{name}/lanes", r.postLane),
		router.NewGetRoute("/repos/{name}/lanes/{lane}/members", r.getLaneMembers),
		router.NewPostRoute("/repos/{name}/lanes/{lane}/members", r.postLaneMember),
		router.NewDeleteRoute("/repos/{name}/lanes/{lane}/members/{handle}", r.deleteLaneMember),
		router.NewPostRoute("/repos/{name}/lanes/{lane}/heads/me", r.postLaneHead),
		router.NewGetRoute("/repos/{name}/lanes/{lane}/heads/{user}", r.getLaneHead),
		router.NewGetRoute("/repos/{name}/gates", r.getGates),
		router.NewGetRoute("/repos/{name}/gate-graph", r.getGateGraph),
		router.NewPutRoute("/repos/{name}/gate-graph", r.putGateGraph),
		router.NewGetRoute("/repos/{name}/scopes", r.getScopes),
		router.NewPostRoute("/repos/{name}/scopes", r.postScope),
	}
}
