package repo

import "encoding/json"

// GateGraph is the per-repo promotion DAG. Edges point downstream: a
// gate lists the upstream gates bundles may be promoted from.
type GateGraph struct {
	Version int       `json:"version"`
	Gates   []GateDef `json:"gates"`
}

// GateDef is the full definition of one gate, including the policy
// knobs the promotability predicate evaluates.
type GateDef struct {
	ID                            string   `json:"id"`
	Name                          string   `json:"name"`
	Upstream                      []string `json:"upstream"`
	AllowReleases                 bool     `json:"allow_releases"`
	AllowSuperpositions           bool     `json:"allow_superpositions"`
	AllowMetadataOnlyPublications bool     `json:"allow_metadata_only_publications"`
	RequiredApprovals             int      `json:"required_approvals"`
}

// UnmarshalJSON defaults allow_releases to true so that graphs written
// before the flag existed keep releasing.
func (g *GateDef) UnmarshalJSON(b []byte) error {
	type gateDef GateDef
	aux := gateDef{AllowReleases: true}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Upstream == nil {
		aux.Upstream = []string{}
	}
	*g = GateDef(aux)
	return nil
}

func (g *GateDef) HasUpstream(id string) bool {
	for _, u := range g.Upstream {
		if u == id {
			return true
		}
	}
	return false
}

// Gate is the compact projection returned by gate listings.
type Gate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultGateGraph is the starter graph for new repos: a single intake
// gate that holds superpositions and metadata-only publications back.
func DefaultGateGraph() GateGraph {
	return GateGraph{
		Version: 1,
		Gates: []GateDef{{
			ID:                            "dev-intake",
			Name:                          "Dev Intake",
			Upstream:                      []string{},
			AllowReleases:                 true,
			AllowSuperpositions:           false,
			AllowMetadataOnlyPublications: false,
			RequiredApprovals:             0,
		}},
	}
}

// Gate returns the definition for id, or nil when the graph does not
// define it.
func (gg *GateGraph) Gate(id string) *GateDef {
	for i := range gg.Gates {
		if gg.Gates[i].ID == id {
			return &gg.Gates[i]
		}
	}
	return nil
}

// Summaries projects the graph into the id/name pairs gate listings
// return.
func (gg *GateGraph) Summaries() []Gate {
	out := make([]Gate, 0, len(gg.Gates))
	for _, g := range gg.Gates {
		out = append(out, Gate{ID: g.ID, Name: g.Name})
	}
	return out
}

// GraphIssue describes one structural problem found while validating a
// proposed gate graph.
type GraphIssue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Gate     string `json:"gate,omitempty"`
	Upstream string `json:"upstream,omitempty"`
}

// Validate checks a proposed graph and returns every structural issue
// found: version, non-emptiness, gate ID syntax, name presence,
// duplicates, upstream references, and acyclicity. An empty result
// means the graph is acceptable.
func (gg *GateGraph) Validate() []GraphIssue {
	issues := []GraphIssue{}
	if gg.Version != 1 {
		issues = append(issues, GraphIssue{Code: "bad_version", Message: "gate graph version must be 1"})
	}
	if len(gg.Gates) == 0 {
		issues = append(issues, GraphIssue{Code: "empty_graph", Message: "gate graph must define at least one gate"})
		return issues
	}

	known := map[string]bool{}
	for _, g := range gg.Gates {
		known[g.ID] = true
	}

	seen := map[string]bool{}
	for _, g := range gg.Gates {
		if err := ValidateGateID(g.ID); err != nil {
			issues = append(issues, GraphIssue{Code: "bad_gate_id", Message: err.Error(), Gate: g.ID})
		}
		if g.Name == "" {
			issues = append(issues, GraphIssue{Code: "empty_gate_name", Message: "gate name cannot be empty", Gate: g.ID})
		}
		if seen[g.ID] {
			issues = append(issues, GraphIssue{Code: "duplicate_gate", Message: "duplicate gate id", Gate: g.ID})
		}
		seen[g.ID] = true
		for _, u := range g.Upstream {
			if err := ValidateGateID(u); err != nil {
				issues = append(issues, GraphIssue{Code: "bad_upstream", Message: err.Error(), Gate: g.ID, Upstream: u})
				continue
			}
			if !known[u] {
				issues = append(issues, GraphIssue{Code: "unknown_upstream", Message: "unknown upstream gate", Gate: g.ID, Upstream: u})
			}
		}
	}

	if at, cyclic := gg.findCycle(); cyclic {
		issues = append(issues, GraphIssue{Code: "cycle", Message: "gate graph contains a cycle", Gate: at})
	}
	return issues
}

// findCycle walks upstream links depth-first and reports the first
// gate at which a back edge closes a loop.
func (gg *GateGraph) findCycle() (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	byID := map[string]*GateDef{}
	for i := range gg.Gates {
		byID[gg.Gates[i].ID] = &gg.Gates[i]
	}

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = gray
		for _, u := range byID[id].Upstream {
			if _, ok := byID[u]; !ok {
				continue
			}
			switch color[u] {
			case gray:
				return id, true
			case white:
				if at, found := visit(u); found {
					return at, true
				}
			}
		}
		color[id] = black
		return "", false
	}

	for _, g := range gg.Gates {
		if color[g.ID] == white {
			if at, found := visit(g.ID); found {
				return at, true
			}
		}
	}
	return "", false
}

// ComputePromotability evaluates the gate policy for a bundle. The
// reason order is fixed: superpositions first, then approvals.
func ComputePromotability(gate *GateDef, hasSuperpositions bool, approvals int) (bool, []string) {
	reasons := []string{}
	if hasSuperpositions && !gate.AllowSuperpositions {
		reasons = append(reasons, "superpositions_present")
	}
	if approvals < gate.RequiredApprovals {
		reasons = append(reasons, "approvals_missing")
	}
	return len(reasons) == 0, reasons
}
