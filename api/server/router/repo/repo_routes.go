package repo

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/repo"
)

var okBody = map[string]bool{"ok": true}

func (rr *repoRouter) getRepos(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	repos, err := rr.backend.ListRepos(ctx, subject)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, repos)
}

func (rr *repoRouter) postRepo(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	created, err := rr.backend.CreateRepo(ctx, subject, body.ID)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, created)
}

func (rr *repoRouter) getRepo(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	found, err := rr.backend.GetRepo(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, found)
}

func (rr *repoRouter) getPermissions(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	perms, err := rr.backend.GetRepoPermissions(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, perms)
}

func (rr *repoRouter) getMembers(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	members, err := rr.backend.ListRepoMembers(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, members)
}

func (rr *repoRouter) postMember(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.MemberRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	if err := rr.backend.AddRepoMember(ctx, subject, vars["name"], body); err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, okBody)
}

func (rr *repoRouter) deleteMember(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := rr.backend.RemoveRepoMember(ctx, subject, vars["name"], vars["handle"]); err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, okBody)
}

func (rr *repoRouter) getLanes(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	lanes, err := rr.backend.ListLanes(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, lanes)
}

func (rr *repoRouter) postLane(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateLaneRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	lane, err := rr.backend.CreateLane(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, lane)
}

func (rr *repoRouter) getLaneMembers(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	members, err := rr.backend.ListLaneMembers(ctx, subject, vars["name"], vars["lane"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, members)
}

func (rr *repoRouter) postLaneMember(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.MemberRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	if err := rr.backend.AddLaneMember(ctx, subject, vars["name"], vars["lane"], body); err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, okBody)
}

func (rr *repoRouter) deleteLaneMember(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := rr.backend.RemoveLaneMember(ctx, subject, vars["name"], vars["lane"], vars["handle"]); err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, okBody)
}

func (rr *repoRouter) postLaneHead(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.UpdateLaneHeadRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	head, err := rr.backend.UpdateLaneHead(ctx, subject, vars["name"], vars["lane"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, head)
}

func (rr *repoRouter) getLaneHead(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	head, err := rr.backend.GetLaneHead(ctx, subject, vars["name"], vars["lane"], vars["user"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, head)
}

func (rr *repoRouter) getGates(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	gates, err := rr.backend.ListGates(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, gates)
}

func (rr *repoRouter) getGateGraph(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	graph, err := rr.backend.GetGateGraph(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, graph)
}

// putGateGraph renders rejected graphs itself so the response can carry
// the structured issue list next to the error message.
func (rr *repoRouter) putGateGraph(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var graph repo.GateGraph
	if err := httputils.ReadJSON(req, &graph); err != nil {
		return err
	}
	updated, err := rr.backend.PutGateGraph(ctx, subject, vars["name"], graph)
	if err != nil {
		var invalid *daemon.InvalidGateGraphError
		if errors.As(err, &invalid) {
			return httputils.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  invalid.Error(),
				"issues": invalid.Issues,
			})
		}
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, updated)
}

func (rr *repoRouter) getScopes(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	scopes, err := rr.backend.ListScopes(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, scopes)
}

func (rr *repoRouter) postScope(ctx context.Context, w http.ResponseWriter, req *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateScopeRequest
	if err := httputils.ReadJSON(req, &body); err != nil {
		return err
	}
	scope, err := rr.backend.CreateScope(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, scope)
}
