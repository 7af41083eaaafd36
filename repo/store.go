package repo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/object"
)

// Store is the in-memory repo index backed by one directory per repo.
// Every mutation runs under the repo's exclusive lock and lands on disk
// before the lock is released; repo.json is replaced atomically so a
// crash leaves either the old or the new aggregate, never a torn one.
type Store struct {
	dir string

	mu    sync.RWMutex
	repos map[string]*repoEntry
}

type repoEntry struct {
	mu   sync.RWMutex
	repo *Repo
}

// NewStore loads every repo directory under dir. Aggregates are
// hydrated from sidecar records where repo.json predates them, and
// handle-only provenance is backfilled with user IDs via handleToID.
// defaultUser owns repaired aggregates whose repo.json is missing.
func NewStore(dir, defaultUser string, handleToID map[string]string) (*Store, error) {
	s := &Store{
		dir:   dir,
		repos: map[string]*repoEntry{},
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errdefs.System(errors.Wrap(err, "read data dir"))
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		repoID := e.Name()
		r, err := s.loadRepo(repoID, defaultUser, handleToID)
		if err != nil {
			return nil, errors.Wrapf(err, "load repo %s", repoID)
		}
		s.repos[repoID] = &repoEntry{repo: r}
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) repoDir(repoID string) string {
	return filepath.Join(s.dir, repoID)
}

func (s *Store) statePath(repoID string) string {
	return filepath.Join(s.repoDir(repoID), "repo.json")
}

func (s *Store) sidecarPath(repoID, sub, id string) string {
	return filepath.Join(s.repoDir(repoID), sub, id+".json")
}

// Create registers a new aggregate, makes its directory layout and
// persists it. Conflicts when the repo already exists.
func (s *Store) Create(r *Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[r.ID]; ok {
		return errdefs.Conflict(errors.New("repo already exists"))
	}
	for _, sub := range []string{"", "bundles", "promotions", "releases"} {
		if err := os.MkdirAll(filepath.Join(s.repoDir(r.ID), sub), 0o755); err != nil {
			return errdefs.System(errors.Wrap(err, "create repo dir"))
		}
	}
	if err := s.persist(r); err != nil {
		return err
	}
	s.repos[r.ID] = &repoEntry{repo: r}
	return nil
}

func (s *Store) entry(repoID string) (*repoEntry, error) {
	s.mu.RLock()
	e, ok := s.repos[repoID]
	s.mu.RUnlock()
	if !ok {
		return nil, errdefs.NotFound(errors.New("not found"))
	}
	return e, nil
}

// View runs fn under the repo's read lock. fn must not mutate the
// aggregate or retain references past its return.
func (s *Store) View(repoID string, fn func(*Repo) error) error {
	e, err := s.entry(repoID)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.repo)
}

// Update runs fn under the repo's exclusive lock and persists the
// aggregate when fn succeeds. Sidecar writes issued by fn land before
// repo.json, so a crash between the two is repaired by hydration on
// the next load.
func (s *Store) Update(repoID string, fn func(*Repo) error) error {
	e, err := s.entry(repoID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.repo); err != nil {
		return err
	}
	return s.persist(e.repo)
}

// List calls fn for each repo in ID order under its read lock.
func (s *Store) List(fn func(*Repo)) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.repos))
	entries := make(map[string]*repoEntry, len(s.repos))
	for id, e := range s.repos {
		ids = append(ids, id)
		entries[id] = e
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	for _, id := range ids {
		e := entries[id]
		e.mu.RLock()
		fn(e.repo)
		e.mu.RUnlock()
	}
}

func (s *Store) persist(r *Repo) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errdefs.System(errors.Wrap(err, "serialize repo"))
	}
	if err := atomicwriter.WriteFile(s.statePath(r.ID), b, 0o644); err != nil {
		return errdefs.System(errors.Wrap(err, "write repo.json"))
	}
	return nil
}

// WriteBundle records a bundle sidecar, leaving any existing record in
// place. Bundle IDs are content-derived so a second write is always
// the same bytes.
func (s *Store) WriteBundle(repoID string, b *Bundle) error {
	return s.writeSidecarIfAbsent(s.sidecarPath(repoID, "bundles", b.ID), b)
}

// OverwriteBundle replaces a bundle sidecar atomically. Used when
// approvals change an existing record in place.
func (s *Store) OverwriteBundle(repoID string, b *Bundle) error {
	return s.overwriteSidecar(s.sidecarPath(repoID, "bundles", b.ID), b)
}

// ReadBundle loads a bundle sidecar from disk. Not-found when no
// record exists.
func (s *Store) ReadBundle(repoID, bundleID string) (*Bundle, error) {
	path := s.sidecarPath(repoID, "bundles", bundleID)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errors.New("not found"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read %s", path))
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse %s", path))
	}
	b.normalize()
	return &b, nil
}

func (s *Store) WritePromotion(repoID string, p *Promotion) error {
	return s.writeSidecarIfAbsent(s.sidecarPath(repoID, "promotions", p.ID), p)
}

func (s *Store) WriteRelease(repoID string, r *Release) error {
	return s.writeSidecarIfAbsent(s.sidecarPath(repoID, "releases", r.ID), r)
}

func (s *Store) writeSidecarIfAbsent(path string, v any) error {
	if fileExists(path) {
		return nil
	}
	return s.overwriteSidecar(path, v)
}

func (s *Store) overwriteSidecar(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errdefs.System(errors.Wrapf(err, "serialize %s", path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdefs.System(errors.Wrapf(err, "create dir %s", filepath.Dir(path)))
	}
	if err := atomicwriter.WriteFile(path, b, 0o644); err != nil {
		return errdefs.System(errors.Wrapf(err, "write %s", path))
	}
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// SweepSidecars removes sidecar records under sub ("bundles" or
// "releases") whose IDs are not in keep. Mirrors the object store
// sweep, including dry-run counting.
func (s *Store) SweepSidecars(repoID, sub string, keep map[string]struct{}, dryRun bool) (object.SweepResult, error) {
	var res object.SweepResult
	dir := filepath.Join(s.repoDir(repoID), sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, errdefs.System(errors.Wrapf(err, "read %s dir", sub))
	}
	for _, e := range entries {
		id, ok := sidecarStem(e)
		if !ok {
			continue
		}
		if _, ok := keep[id]; ok {
			res.Kept++
			continue
		}
		path := filepath.Join(dir, e.Name())
		if fi, err := e.Info(); err == nil {
			res.Reclaimed += fi.Size()
		}
		if !dryRun {
			if err := os.Remove(path); err != nil {
				return res, errdefs.System(errors.Wrapf(err, "remove %s", path))
			}
		}
		res.Deleted++
	}
	return res, nil
}

func sidecarStem(e os.DirEntry) (string, bool) {
	if !e.Type().IsRegular() {
		return "", false
	}
	name, ok := strings.CutSuffix(e.Name(), ".json")
	if !ok {
		return "", false
	}
	if len(name) != object.IDLen {
		return "", false
	}
	return name, true
}

// loadRepo reads one repo directory: repo.json when present, a default
// aggregate otherwise, then hydration from sidecar records and user-ID
// backfill for data dirs written before the parallel indexes existed.
func (s *Store) loadRepo(repoID, defaultUser string, handleToID map[string]string) (*Repo, error) {
	var r *Repo
	if raw, err := os.ReadFile(s.statePath(repoID)); err == nil {
		r = &Repo{}
		if err := json.Unmarshal(raw, r); err != nil {
			return nil, errdefs.System(errors.Wrap(err, "parse repo.json"))
		}
		r.normalize()
	} else if os.IsNotExist(err) {
		r = New(repoID, defaultUser, "")
	} else {
		return nil, errdefs.System(errors.Wrap(err, "read repo.json"))
	}

	// The directory name wins over whatever the file claims.
	r.ID = repoID

	if snaps := s.loadSnapIDs(repoID); len(snaps) > 0 {
		r.Snaps = snaps
	}
	bundles, err := loadSidecars[Bundle](filepath.Join(s.repoDir(repoID), "bundles"))
	if err != nil {
		return nil, err
	}
	if len(bundles) > 0 {
		sort.Slice(bundles, func(i, j int) bool { return bundles[i].CreatedAt > bundles[j].CreatedAt })
		for i := range bundles {
			bundles[i].normalize()
		}
		r.Bundles = bundles
	}
	promotions, err := loadSidecars[Promotion](filepath.Join(s.repoDir(repoID), "promotions"))
	if err != nil {
		return nil, err
	}
	if len(promotions) > 0 {
		sort.Slice(promotions, func(i, j int) bool { return promotions[i].PromotedAt > promotions[j].PromotedAt })
		r.Promotions = promotions
		r.PromotionState = RebuildPromotionState(promotions)
	}
	releases, err := loadSidecars[Release](filepath.Join(s.repoDir(repoID), "releases"))
	if err != nil {
		return nil, err
	}
	if len(releases) > 0 {
		sort.Slice(releases, func(i, j int) bool { return releases[i].ReleasedAt > releases[j].ReleasedAt })
		r.Releases = releases
	}

	backfillProvenanceUserIDs(r, handleToID)
	backfillACLUserIDs(r, handleToID)
	return r, nil
}

func (s *Store) loadSnapIDs(repoID string) StringSet {
	entries, err := os.ReadDir(filepath.Join(s.repoDir(repoID), "objects", string(object.KindSnap)))
	if err != nil {
		return nil
	}
	out := NewStringSet()
	for _, e := range entries {
		if id, ok := sidecarStem(e); ok {
			out.Add(id)
		}
	}
	return out
}

func loadSidecars[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.System(errors.Wrapf(err, "read %s", dir))
	}
	var out []T
	for _, e := range entries {
		if _, ok := sidecarStem(e); !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errdefs.System(errors.Wrapf(err, "read %s", path))
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errdefs.System(errors.Wrapf(err, "parse %s", path))
		}
		out = append(out, v)
	}
	return out, nil
}

// RebuildPromotionState folds the promotion log into the scope/gate
// head map. The latest promoted_at wins; on a timestamp tie the
// greater promotion ID does, keeping rebuilds deterministic.
func RebuildPromotionState(promotions []Promotion) map[string]map[string]string {
	type head struct {
		at       string
		id       string
		bundleID string
	}
	tmp := map[string]map[string]head{}
	for _, p := range promotions {
		scope := tmp[p.Scope]
		if scope == nil {
			scope = map[string]head{}
			tmp[p.Scope] = scope
		}
		prev, ok := scope[p.ToGate]
		if !ok || p.PromotedAt > prev.at || (p.PromotedAt == prev.at && p.ID > prev.id) {
			scope[p.ToGate] = head{at: p.PromotedAt, id: p.ID, bundleID: p.BundleID}
		}
	}
	out := make(map[string]map[string]string, len(tmp))
	for scope, gates := range tmp {
		m := make(map[string]string, len(gates))
		for gate, h := range gates {
			m[gate] = h.bundleID
		}
		out[scope] = m
	}
	return out
}

func backfillProvenanceUserIDs(r *Repo, handleToID map[string]string) {
	for i := range r.Publications {
		p := &r.Publications[i]
		if p.PublisherUserID == nil {
			if id, ok := handleToID[p.Publisher]; ok {
				p.PublisherUserID = &id
			}
		}
	}
	for i := range r.Bundles {
		b := &r.Bundles[i]
		if b.CreatedByUserID == nil {
			if id, ok := handleToID[b.CreatedBy]; ok {
				b.CreatedByUserID = &id
			}
		}
		if len(b.ApprovalUserIDs) == 0 && len(b.Approvals) > 0 {
			for _, a := range b.Approvals {
				if id, ok := handleToID[a]; ok {
					b.ApprovalUserIDs = append(b.ApprovalUserIDs, id)
				}
			}
			sort.Strings(b.ApprovalUserIDs)
			b.ApprovalUserIDs = dedupSorted(b.ApprovalUserIDs)
		}
	}
	for i := range r.Promotions {
		p := &r.Promotions[i]
		if p.PromotedByUserID == nil {
			if id, ok := handleToID[p.PromotedBy]; ok {
				p.PromotedByUserID = &id
			}
		}
	}
	for i := range r.Releases {
		rel := &r.Releases[i]
		if rel.ReleasedByUserID == nil {
			if id, ok := handleToID[rel.ReleasedBy]; ok {
				rel.ReleasedByUserID = &id
			}
		}
	}
}

func backfillACLUserIDs(r *Repo, handleToID map[string]string) {
	if r.OwnerUserID == nil {
		if id, ok := handleToID[r.Owner]; ok {
			r.OwnerUserID = &id
		}
	}
	if r.ReaderUserIDs.Len() == 0 && r.Readers.Len() > 0 {
		for _, h := range r.Readers.Sorted() {
			if id, ok := handleToID[h]; ok {
				r.ReaderUserIDs.Add(id)
			}
		}
	}
	if r.PublisherUserIDs.Len() == 0 && r.Publishers.Len() > 0 {
		for _, h := range r.Publishers.Sorted() {
			if id, ok := handleToID[h]; ok {
				r.PublisherUserIDs.Add(id)
			}
		}
	}
	for _, lane := range r.Lanes {
		if lane.MemberUserIDs.Len() == 0 && lane.Members.Len() > 0 {
			for _, h := range lane.Members.Sorted() {
				if id, ok := handleToID[h]; ok {
					lane.MemberUserIDs.Add(id)
				}
			}
		}
	}
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}
