package daemon

import (
	"context"

	"github.com/containerd/log"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
)

// InvalidGateGraphError carries the structured issues of a rejected
// graph so the HTTP layer can render them alongside the error message.
type InvalidGateGraphError struct {
	Issues []repo.GraphIssue
}

func (e *InvalidGateGraphError) Error() string { return "invalid gate graph" }

// InvalidParameter marks the error as a client mistake.
func (e *InvalidGateGraphError) InvalidParameter() {}

// ListGates returns id and name summaries of the repo's gates.
func (d *Daemon) ListGates(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Gate, error) {
	var out []repo.Gate
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = r.GateGraph.Summaries()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetGateGraph returns the repo's full gate graph.
func (d *Daemon) GetGateGraph(ctx context.Context, subject identity.Subject, repoID string) (repo.GateGraph, error) {
	var out repo.GateGraph
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = r.GateGraph.Clone()
		return nil
	})
	if err != nil {
		return repo.GateGraph{}, err
	}
	return out, nil
}

// PutGateGraph replaces the repo's gate graph. The graph is validated
// before any repo lookup so callers get structural feedback even for
// repos they cannot touch; the replacement itself is admin only.
func (d *Daemon) PutGateGraph(ctx context.Context, subject identity.Subject, repoID string, graph repo.GateGraph) (repo.GateGraph, error) {
	if issues := graph.Validate(); len(issues) > 0 {
		return repo.GateGraph{}, &InvalidGateGraphError{Issues: issues}
	}
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !subject.Admin {
			return errForbidden
		}
		r.GateGraph = graph.Clone()
		return nil
	})
	if err != nil {
		return repo.GateGraph{}, err
	}
	log.G(ctx).WithFields(log.Fields{"repo": repoID, "gates": len(graph.Gates)}).Info("gate graph replaced")
	return graph, nil
}
