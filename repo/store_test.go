package repo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/object"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, "dev", nil)
	assert.NilError(t, err)
	return s, dir
}

func TestCreateViewUpdateReload(t *testing.T) {
	s, dir := newTestStore(t)
	assert.NilError(t, s.Create(New("demo", "dev", "uid-dev")))

	err := s.Create(New("demo", "dev", "uid-dev"))
	assert.Check(t, is.Error(err, "repo already exists"))
	assert.Check(t, errdefs.IsConflict(err))

	for _, sub := range []string{"bundles", "promotions", "releases"} {
		fi, err := os.Stat(filepath.Join(dir, "demo", sub))
		assert.NilError(t, err)
		assert.Check(t, fi.IsDir())
	}

	assert.NilError(t, s.Update("demo", func(r *Repo) error {
		r.Scopes.Add("team/web")
		return nil
	}))

	// A fresh store sees the persisted aggregate.
	s2, err := NewStore(dir, "dev", nil)
	assert.NilError(t, err)
	assert.NilError(t, s2.View("demo", func(r *Repo) error {
		assert.Check(t, r.Scopes.Contains("team/web"))
		assert.Check(t, is.Equal(r.Owner, "dev"))
		return nil
	}))

	err = s.View("ghost", func(*Repo) error { return nil })
	assert.Check(t, is.Error(err, "not found"))
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestUpdateErrorSkipsPersist(t *testing.T) {
	s, dir := newTestStore(t)
	assert.NilError(t, s.Create(New("demo", "dev", "")))
	before, err := os.ReadFile(filepath.Join(dir, "demo", "repo.json"))
	assert.NilError(t, err)

	boom := errdefs.InvalidParameter(os.ErrInvalid)
	err = s.Update("demo", func(*Repo) error { return boom })
	assert.Check(t, is.ErrorIs(err, boom))

	after, err := os.ReadFile(filepath.Join(dir, "demo", "repo.json"))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(after), string(before)))
}

func TestListOrdersByID(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NilError(t, s.Create(New("beta", "dev", "")))
	assert.NilError(t, s.Create(New("alpha", "dev", "")))

	var ids []string
	s.List(func(r *Repo) { ids = append(ids, r.ID) })
	assert.Check(t, is.DeepEqual(ids, []string{"alpha", "beta"}))
}

func TestDirectoryNameWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	r := New("other", "dev", "")
	b, err := json.MarshalIndent(r, "", "  ")
	assert.NilError(t, err)
	assert.NilError(t, os.MkdirAll(filepath.Join(dir, "demo"), 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "demo", "repo.json"), b, 0o644))

	s, err := NewStore(dir, "dev", nil)
	assert.NilError(t, err)
	assert.NilError(t, s.View("demo", func(r *Repo) error {
		assert.Check(t, is.Equal(r.ID, "demo"))
		return nil
	}))
}

func TestMissingRepoJSONGetsDefaultState(t *testing.T) {
	dir := t.TempDir()
	assert.NilError(t, os.MkdirAll(filepath.Join(dir, "orphan"), 0o755))

	s, err := NewStore(dir, "dev", nil)
	assert.NilError(t, err)
	assert.NilError(t, s.View("orphan", func(r *Repo) error {
		assert.Check(t, is.Equal(r.Owner, "dev"))
		assert.Check(t, r.Scopes.Contains("main"))
		assert.Check(t, r.Lanes["default"].Members.Contains("dev"))
		return nil
	}))
}

func TestHydrationFromSidecars(t *testing.T) {
	s, dir := newTestStore(t)
	assert.NilError(t, s.Create(New("demo", "dev", "")))

	b1 := &Bundle{ID: object.DigestParts("b1"), Scope: "main", Gate: "dev-intake",
		CreatedAt: "2026-01-01T00:00:01.000000000Z", InputPublications: []string{},
		Reasons: []string{}, Approvals: []string{}, ApprovalUserIDs: []string{}}
	b2 := &Bundle{ID: object.DigestParts("b2"), Scope: "main", Gate: "dev-intake",
		CreatedAt: "2026-01-01T00:00:02.000000000Z", InputPublications: []string{},
		Reasons: []string{}, Approvals: []string{}, ApprovalUserIDs: []string{}}
	assert.NilError(t, s.WriteBundle("demo", b1))
	assert.NilError(t, s.WriteBundle("demo", b2))

	p := &Promotion{ID: object.DigestParts("p1"), BundleID: b1.ID, Scope: "main",
		FromGate: "dev-intake", ToGate: "team", PromotedBy: "dev",
		PromotedAt: "2026-01-01T00:00:03.000000000Z"}
	assert.NilError(t, s.WritePromotion("demo", p))

	rel := &Release{ID: object.DigestParts("r1"), Channel: "stable", BundleID: b1.ID,
		Scope: "main", Gate: "team", ReleasedBy: "dev",
		ReleasedAt: "2026-01-01T00:00:04.000000000Z"}
	assert.NilError(t, s.WriteRelease("demo", rel))

	snapID := object.DigestParts("snap")
	snapDir := filepath.Join(dir, "demo", "objects", "snaps")
	assert.NilError(t, os.MkdirAll(snapDir, 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(snapDir, snapID+".json"), []byte("{}"), 0o644))

	// Sidecar writes do not touch the aggregate; a reload hydrates it.
	s2, err := NewStore(dir, "dev", nil)
	assert.NilError(t, err)
	assert.NilError(t, s2.View("demo", func(r *Repo) error {
		assert.Assert(t, is.Len(r.Bundles, 2))
		assert.Check(t, is.Equal(r.Bundles[0].ID, b2.ID))
		assert.Check(t, is.Equal(r.Bundles[1].ID, b1.ID))
		assert.Assert(t, is.Len(r.Promotions, 1))
		assert.Check(t, is.Equal(r.PromotionState["main"]["team"], b1.ID))
		assert.Assert(t, is.Len(r.Releases, 1))
		assert.Check(t, is.Equal(r.Releases[0].Channel, "stable"))
		assert.Check(t, r.Snaps.Contains(snapID))
		return nil
	}))
}

func TestRebuildPromotionState(t *testing.T) {
	mk := func(id, bundle, at string) Promotion {
		return Promotion{ID: id, BundleID: bundle, Scope: "main", ToGate: "team", PromotedAt: at}
	}
	t1 := "2026-01-01T00:00:01.000000000Z"
	t2 := "2026-01-01T00:00:02.000000000Z"

	// Later promoted_at wins regardless of log order.
	state := RebuildPromotionState([]Promotion{mk("bb", "new", t2), mk("aa", "old", t1)})
	assert.Check(t, is.Equal(state["main"]["team"], "new"))

	// Equal timestamps fall back to the greater promotion ID.
	state = RebuildPromotionState([]Promotion{mk("zz", "z-bundle", t1), mk("aa", "a-bundle", t1)})
	assert.Check(t, is.Equal(state["main"]["team"], "z-bundle"))
	state = RebuildPromotionState([]Promotion{mk("aa", "a-bundle", t1), mk("zz", "z-bundle", t1)})
	assert.Check(t, is.Equal(state["main"]["team"], "z-bundle"))
}

func TestBundleSidecarWriteModes(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NilError(t, s.Create(New("demo", "dev", "")))

	_, err := s.ReadBundle("demo", object.DigestParts("ghost"))
	assert.Check(t, is.Error(err, "not found"))
	assert.Check(t, errdefs.IsNotFound(err))

	id := object.DigestParts("b")
	orig := &Bundle{ID: id, Scope: "main", Gate: "dev-intake", Promotable: false}
	assert.NilError(t, s.WriteBundle("demo", orig))

	// A second if-absent write is a no-op.
	clobber := &Bundle{ID: id, Scope: "main", Gate: "dev-intake", Promotable: true}
	assert.NilError(t, s.WriteBundle("demo", clobber))
	got, err := s.ReadBundle("demo", id)
	assert.NilError(t, err)
	assert.Check(t, !got.Promotable)

	// Approvals replace the record in place.
	clobber.Approvals = []string{"dev"}
	assert.NilError(t, s.OverwriteBundle("demo", clobber))
	got, err = s.ReadBundle("demo", id)
	assert.NilError(t, err)
	assert.Check(t, got.Promotable)
	assert.Check(t, is.DeepEqual(got.Approvals, []string{"dev"}))
}

func TestSweepSidecars(t *testing.T) {
	s, dir := newTestStore(t)
	assert.NilError(t, s.Create(New("demo", "dev", "")))

	keepID := object.DigestParts("keep")
	dropID := object.DigestParts("drop")
	assert.NilError(t, s.WriteRelease("demo", &Release{ID: keepID, Channel: "stable"}))
	assert.NilError(t, s.WriteRelease("demo", &Release{ID: dropID, Channel: "stable"}))

	keep := map[string]struct{}{keepID: {}}
	res, err := s.SweepSidecars("demo", "releases", keep, true)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.Deleted, 1))
	assert.Check(t, is.Equal(res.Kept, 1))
	_, err = os.Stat(filepath.Join(dir, "demo", "releases", dropID+".json"))
	assert.NilError(t, err)

	res, err = s.SweepSidecars("demo", "releases", keep, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(res.Deleted, 1))
	_, err = os.Stat(filepath.Join(dir, "demo", "releases", dropID+".json"))
	assert.Check(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "demo", "releases", keepID+".json"))
	assert.NilError(t, err)
}

func TestBackfillUserIDs(t *testing.T) {
	dir := t.TempDir()
	legacy := New("demo", "dev", "")
	legacy.Publications = append(legacy.Publications, Publication{
		ID: object.DigestParts("p"), SnapID: object.DigestParts("s"),
		Scope: "main", Gate: "dev-intake", Publisher: "dev",
		CreatedAt: "2026-01-01T00:00:01.000000000Z",
	})
	legacy.Bundles = append(legacy.Bundles, Bundle{
		ID: object.DigestParts("b"), Scope: "main", Gate: "dev-intake",
		CreatedBy: "dev", CreatedAt: "2026-01-01T00:00:02.000000000Z",
		InputPublications: []string{}, Reasons: []string{},
		Approvals: []string{"dev", "ada"}, ApprovalUserIDs: []string{},
	})
	b, err := json.MarshalIndent(legacy, "", "  ")
	assert.NilError(t, err)
	assert.NilError(t, os.MkdirAll(filepath.Join(dir, "demo"), 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "demo", "repo.json"), b, 0o644))

	handleToID := map[string]string{"dev": "uid-dev", "ada": "uid-ada"}
	s, err := NewStore(dir, "dev", handleToID)
	assert.NilError(t, err)
	assert.NilError(t, s.View("demo", func(r *Repo) error {
		assert.Assert(t, r.OwnerUserID != nil)
		assert.Check(t, is.Equal(*r.OwnerUserID, "uid-dev"))
		assert.Check(t, r.ReaderUserIDs.Contains("uid-dev"))
		assert.Check(t, r.PublisherUserIDs.Contains("uid-dev"))
		assert.Check(t, r.Lanes["default"].MemberUserIDs.Contains("uid-dev"))

		assert.Assert(t, r.Publications[0].PublisherUserID != nil)
		assert.Check(t, is.Equal(*r.Publications[0].PublisherUserID, "uid-dev"))
		assert.Assert(t, r.Bundles[0].CreatedByUserID != nil)
		assert.Check(t, is.Equal(*r.Bundles[0].CreatedByUserID, "uid-dev"))
		assert.Check(t, is.DeepEqual(r.Bundles[0].ApprovalUserIDs, []string{"uid-ada", "uid-dev"}))
		return nil
	}))
}
