package repo

// Clone returns a deep copy of the set.
func (s StringSet) Clone() StringSet {
	if s == nil {
		return nil
	}
	out := make(StringSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Clone returns a deep copy of the graph.
func (gg GateGraph) Clone() GateGraph {
	out := GateGraph{Version: gg.Version}
	if gg.Gates != nil {
		out.Gates = make([]GateDef, len(gg.Gates))
		for i, g := range gg.Gates {
			out.Gates[i] = g
			out.Gates[i].Upstream = append([]string(nil), g.Upstream...)
		}
	}
	return out
}

// Clone returns a deep copy of the lane.
func (l *Lane) Clone() *Lane {
	if l == nil {
		return nil
	}
	out := &Lane{
		ID:            l.ID,
		Members:       l.Members.Clone(),
		MemberUserIDs: l.MemberUserIDs.Clone(),
	}
	if l.Heads != nil {
		out.Heads = make(map[string]LaneHead, len(l.Heads))
		for k, v := range l.Heads {
			out.Heads[k] = v
		}
	}
	if l.HeadHistory != nil {
		out.HeadHistory = make(map[string][]LaneHead, len(l.HeadHistory))
		for k, v := range l.HeadHistory {
			out.HeadHistory[k] = append([]LaneHead(nil), v...)
		}
	}
	return out
}

func (p Publication) clone() Publication {
	out := p
	if p.Resolution != nil {
		res := *p.Resolution
		out.Resolution = &res
	}
	return out
}

func (b Bundle) clone() Bundle {
	out := b
	out.InputPublications = append([]string(nil), b.InputPublications...)
	out.Reasons = append([]string(nil), b.Reasons...)
	out.Approvals = append([]string(nil), b.Approvals...)
	out.ApprovalUserIDs = append([]string(nil), b.ApprovalUserIDs...)
	return out
}

// Clone returns a deep copy of the repo aggregate. Callers use it to
// hand state out of the store without aliasing live collections.
func (r *Repo) Clone() *Repo {
	if r == nil {
		return nil
	}
	out := &Repo{
		ID:               r.ID,
		Owner:            r.Owner,
		OwnerUserID:      r.OwnerUserID,
		Readers:          r.Readers.Clone(),
		ReaderUserIDs:    r.ReaderUserIDs.Clone(),
		Publishers:       r.Publishers.Clone(),
		PublisherUserIDs: r.PublisherUserIDs.Clone(),
		GateGraph:        r.GateGraph.Clone(),
		Scopes:           r.Scopes.Clone(),
		Snaps:            r.Snaps.Clone(),
		PinnedBundles:    r.PinnedBundles.Clone(),
	}
	if r.Lanes != nil {
		out.Lanes = make(map[string]*Lane, len(r.Lanes))
		for k, v := range r.Lanes {
			out.Lanes[k] = v.Clone()
		}
	}
	if r.Publications != nil {
		out.Publications = make([]Publication, len(r.Publications))
		for i, p := range r.Publications {
			out.Publications[i] = p.clone()
		}
	}
	if r.Bundles != nil {
		out.Bundles = make([]Bundle, len(r.Bundles))
		for i, b := range r.Bundles {
			out.Bundles[i] = b.clone()
		}
	}
	if r.Promotions != nil {
		out.Promotions = append([]Promotion(nil), r.Promotions...)
	}
	if r.PromotionState != nil {
		out.PromotionState = make(map[string]map[string]string, len(r.PromotionState))
		for scope, gates := range r.PromotionState {
			inner := make(map[string]string, len(gates))
			for g, b := range gates {
				inner[g] = b
			}
			out.PromotionState[scope] = inner
		}
	}
	if r.Releases != nil {
		out.Releases = append([]Release(nil), r.Releases...)
	}
	return out
}
