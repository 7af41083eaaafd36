// Package repo holds the repository aggregate: membership, lanes, the
// gate graph, and the append-only publication, bundle, promotion and
// release logs, together with the store that persists them.
package repo

import (
	"encoding/json"
	"sort"
)

// LaneHeadHistoryKeepLast bounds the per-user head history kept as GC
// retention roots for unpublished collaboration.
const LaneHeadHistoryKeepLast = 5

// Repo is the full aggregate persisted as repo.json. Handle-based ACL
// sets carry parallel user-ID sets so that renames do not orphan
// permissions on older data dirs.
type Repo struct {
	ID               string                       `json:"id"`
	Owner            string                       `json:"owner"`
	OwnerUserID      *string                      `json:"owner_user_id"`
	Readers          StringSet                    `json:"readers"`
	ReaderUserIDs    StringSet                    `json:"reader_user_ids"`
	Publishers       StringSet                    `json:"publishers"`
	PublisherUserIDs StringSet                    `json:"publisher_user_ids"`
	Lanes            map[string]*Lane             `json:"lanes"`
	GateGraph        GateGraph                    `json:"gate_graph"`
	Scopes           StringSet                    `json:"scopes"`
	Snaps            StringSet                    `json:"snaps"`
	Publications     []Publication                `json:"publications"`
	Bundles          []Bundle                     `json:"bundles"`
	PinnedBundles    StringSet                    `json:"pinned_bundles"`
	Promotions       []Promotion                  `json:"promotions"`
	PromotionState   map[string]map[string]string `json:"promotion_state"`
	Releases         []Release                    `json:"releases"`
}

// New builds a fresh aggregate owned by the given user: a default lane
// with the owner as sole member, scope "main", and the starter gate
// graph. ownerUserID may be empty for legacy hydration paths; the
// user-ID indexes are then left for backfill.
func New(id, owner, ownerUserID string) *Repo {
	lane := &Lane{
		ID:            "default",
		Members:       NewStringSet(owner),
		MemberUserIDs: NewStringSet(),
		Heads:         map[string]LaneHead{},
		HeadHistory:   map[string][]LaneHead{},
	}
	r := &Repo{
		ID:               id,
		Owner:            owner,
		Readers:          NewStringSet(owner),
		ReaderUserIDs:    NewStringSet(),
		Publishers:       NewStringSet(owner),
		PublisherUserIDs: NewStringSet(),
		Lanes:            map[string]*Lane{lane.ID: lane},
		GateGraph:        DefaultGateGraph(),
		Scopes:           NewStringSet("main"),
		Snaps:            NewStringSet(),
		Publications:     []Publication{},
		Bundles:          []Bundle{},
		PinnedBundles:    NewStringSet(),
		Promotions:       []Promotion{},
		PromotionState:   map[string]map[string]string{},
		Releases:         []Release{},
	}
	if ownerUserID != "" {
		r.OwnerUserID = &ownerUserID
		r.ReaderUserIDs.Add(ownerUserID)
		r.PublisherUserIDs.Add(ownerUserID)
		lane.MemberUserIDs.Add(ownerUserID)
	}
	return r
}

// normalize replaces nil collections left behind by older on-disk
// records so that every aggregate round-trips with the same shape.
func (r *Repo) normalize() {
	if r.Readers == nil {
		r.Readers = NewStringSet()
	}
	if r.ReaderUserIDs == nil {
		r.ReaderUserIDs = NewStringSet()
	}
	if r.Publishers == nil {
		r.Publishers = NewStringSet()
	}
	if r.PublisherUserIDs == nil {
		r.PublisherUserIDs = NewStringSet()
	}
	if r.Lanes == nil {
		r.Lanes = map[string]*Lane{}
	}
	for _, l := range r.Lanes {
		l.normalize()
	}
	if r.Scopes == nil {
		r.Scopes = NewStringSet()
	}
	if r.Snaps == nil {
		r.Snaps = NewStringSet()
	}
	if r.Publications == nil {
		r.Publications = []Publication{}
	}
	if r.Bundles == nil {
		r.Bundles = []Bundle{}
	}
	for i := range r.Bundles {
		r.Bundles[i].normalize()
	}
	if r.PinnedBundles == nil {
		r.PinnedBundles = NewStringSet()
	}
	if r.Promotions == nil {
		r.Promotions = []Promotion{}
	}
	if r.PromotionState == nil {
		r.PromotionState = map[string]map[string]string{}
	}
	if r.Releases == nil {
		r.Releases = []Release{}
	}
}

// FindBundle returns a pointer into the in-memory bundle log, or nil.
func (r *Repo) FindBundle(id string) *Bundle {
	for i := range r.Bundles {
		if r.Bundles[i].ID == id {
			return &r.Bundles[i]
		}
	}
	return nil
}

// FindPublication returns a pointer into the publication log, or nil.
func (r *Repo) FindPublication(id string) *Publication {
	for i := range r.Publications {
		if r.Publications[i].ID == id {
			return &r.Publications[i]
		}
	}
	return nil
}

// Publication records one snap admitted to a (scope, gate) cell.
type Publication struct {
	ID              string                 `json:"id"`
	SnapID          string                 `json:"snap_id"`
	Scope           string                 `json:"scope"`
	Gate            string                 `json:"gate"`
	Publisher       string                 `json:"publisher"`
	PublisherUserID *string                `json:"publisher_user_id"`
	CreatedAt       string                 `json:"created_at"`
	Resolution      *PublicationResolution `json:"resolution"`
}

// PublicationResolution is client-supplied provenance linking a
// publication to the bundle resolution it was derived from.
type PublicationResolution struct {
	BundleID             string `json:"bundle_id"`
	RootManifest         string `json:"root_manifest"`
	ResolvedRootManifest string `json:"resolved_root_manifest"`
	CreatedAt            string `json:"created_at"`
}

// Bundle is a coalesced set of publications with its merged root
// manifest and the promotability verdict computed against the gate.
type Bundle struct {
	ID                string   `json:"id"`
	Scope             string   `json:"scope"`
	Gate              string   `json:"gate"`
	RootManifest      string   `json:"root_manifest"`
	InputPublications []string `json:"input_publications"`
	CreatedBy         string   `json:"created_by"`
	CreatedByUserID   *string  `json:"created_by_user_id"`
	CreatedAt         string   `json:"created_at"`
	Promotable        bool     `json:"promotable"`
	Reasons           []string `json:"reasons"`
	Approvals         []string `json:"approvals"`
	ApprovalUserIDs   []string `json:"approval_user_ids"`
}

func (b *Bundle) normalize() {
	if b.InputPublications == nil {
		b.InputPublications = []string{}
	}
	if b.Reasons == nil {
		b.Reasons = []string{}
	}
	if b.Approvals == nil {
		b.Approvals = []string{}
	}
	if b.ApprovalUserIDs == nil {
		b.ApprovalUserIDs = []string{}
	}
}

// Promotion is one log entry of a bundle crossing a gate edge.
type Promotion struct {
	ID               string  `json:"id"`
	BundleID         string  `json:"bundle_id"`
	Scope            string  `json:"scope"`
	FromGate         string  `json:"from_gate"`
	ToGate           string  `json:"to_gate"`
	PromotedBy       string  `json:"promoted_by"`
	PromotedByUserID *string `json:"promoted_by_user_id"`
	PromotedAt       string  `json:"promoted_at"`
}

// Release names a bundle on a channel. The channel head is the release
// with the greatest released_at.
type Release struct {
	ID               string  `json:"id"`
	Channel          string  `json:"channel"`
	BundleID         string  `json:"bundle_id"`
	Scope            string  `json:"scope"`
	Gate             string  `json:"gate"`
	ReleasedBy       string  `json:"released_by"`
	ReleasedByUserID *string `json:"released_by_user_id"`
	ReleasedAt       string  `json:"released_at"`
	Notes            *string `json:"notes"`
}

// Lane is a collaboration stream with its own membership and per-user
// head pointers. head_history retains the last few heads per user as
// GC roots.
type Lane struct {
	ID            string                `json:"id"`
	Members       StringSet             `json:"members"`
	MemberUserIDs StringSet             `json:"member_user_ids"`
	Heads         map[string]LaneHead   `json:"heads"`
	HeadHistory   map[string][]LaneHead `json:"head_history"`
}

func (l *Lane) normalize() {
	if l.Members == nil {
		l.Members = NewStringSet()
	}
	if l.MemberUserIDs == nil {
		l.MemberUserIDs = NewStringSet()
	}
	if l.Heads == nil {
		l.Heads = map[string]LaneHead{}
	}
	if l.HeadHistory == nil {
		l.HeadHistory = map[string][]LaneHead{}
	}
}

// RecordHead sets the user's current head and prepends it to the
// bounded history, newest first.
func (l *Lane) RecordHead(user string, head LaneHead) {
	l.Heads[user] = head
	hist := append([]LaneHead{head}, l.HeadHistory[user]...)
	if len(hist) > LaneHeadHistoryKeepLast {
		hist = hist[:LaneHeadHistoryKeepLast]
	}
	l.HeadHistory[user] = hist
}

// LaneHead points a lane user at a snap.
type LaneHead struct {
	SnapID    string  `json:"snap_id"`
	UpdatedAt string  `json:"updated_at"`
	ClientID  *string `json:"client_id,omitempty"`
}

// StringSet is a set of strings that marshals as a sorted JSON array,
// keeping persisted aggregates byte-stable across runs.
type StringSet map[string]struct{}

func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add reports whether the item was newly inserted.
func (s StringSet) Add(item string) bool {
	if _, ok := s[item]; ok {
		return false
	}
	s[item] = struct{}{}
	return true
}

func (s StringSet) Remove(item string) {
	delete(s, item)
}

func (s StringSet) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

func (s StringSet) Len() int { return len(s) }

// Sorted returns the members in ascending order. Never nil.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}
