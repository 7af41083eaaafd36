package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/convergeio/converge/api/server/middleware"
	gcrouter "github.com/convergeio/converge/api/server/router/gc"
	objectrouter "github.com/convergeio/converge/api/server/router/object"
	publicationrouter "github.com/convergeio/converge/api/server/router/publication"
	releaserouter "github.com/convergeio/converge/api/server/router/release"
	reporouter "github.com/convergeio/converge/api/server/router/repo"
	systemrouter "github.com/convergeio/converge/api/server/router/system"
	userrouter "github.com/convergeio/converge/api/server/router/user"
	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/daemon/config"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
)

// testEnv is a full server over a fresh daemon, the way converged wires
// it up, minus the listener setup.
type testEnv struct {
	url   string
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.New()
	cfg.DataDir = t.TempDir()
	d, err := daemon.NewDaemon(context.Background(), cfg)
	assert.NilError(t, err)

	srv := &Server{}
	srv.UseMiddleware(middleware.AuthMiddleware(d.Identity()))
	m := srv.CreateMux(
		systemrouter.NewRouter(d, false),
		userrouter.NewRouter(d),
		reporouter.NewRouter(d),
		objectrouter.NewRouter(d),
		publicationrouter.NewRouter(d),
		releaserouter.NewRouter(d),
		gcrouter.NewRouter(d),
	)
	ts := httptest.NewServer(m)
	t.Cleanup(ts.Close)
	return &testEnv{url: ts.URL, token: cfg.DevToken}
}

// do sends an authenticated request. A []byte body goes out verbatim as
// an octet stream, any other non-nil body is marshaled as JSON.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

func (e *testEnv) doAs(t *testing.T, token, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		buf, err := json.Marshal(body)
		assert.NilError(t, err)
		rdr = bytes.NewReader(buf)
		contentType = "application/json"
	}
	req, err := http.NewRequest(method, e.url+path, rdr)
	assert.NilError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	assert.NilError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	return resp, raw
}

func decode(t *testing.T, raw []byte, out interface{}) {
	t.Helper()
	assert.NilError(t, json.Unmarshal(raw, out))
}

// createRepo makes a repo over the API and returns its ID.
func (e *testEnv) createRepo(t *testing.T, id string) string {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/repos", map[string]string{"id": id})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "create repo: %s", raw)
	return id
}

// uploadSnap pushes a one-file tree (blob, manifest, snap) and returns
// the snap ID. createdAt must be unique per call within a repo.
func (e *testEnv) uploadSnap(t *testing.T, repoID, content, createdAt string) string {
	t.Helper()
	blob := []byte(content)
	blobID := object.DigestBytes(blob)
	resp, raw := e.do(t, http.MethodPut, "/repos/"+repoID+"/objects/blobs/"+blobID, blob)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusCreated), "put blob: %s", raw)

	manifest, err := json.Marshal(object.Manifest{
		Version: object.ManifestVersion,
		Entries: []object.Entry{{Name: "file.txt", Kind: object.File{Blob: blobID, Mode: 0o644, Size: uint64(len(blob))}}},
	})
	assert.NilError(t, err)
	manifestID := object.DigestBytes(manifest)
	resp, raw = e.do(t, http.MethodPut, "/repos/"+repoID+"/objects/manifests/"+manifestID, manifest)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusCreated), "put manifest: %s", raw)

	snapID := object.ComputeSnapID(createdAt, manifestID)
	snap, err := json.Marshal(object.SnapRecord{
		Version:      object.SnapVersion,
		ID:           snapID,
		CreatedAt:    createdAt,
		RootManifest: manifestID,
		Stats:        object.SnapStats{Files: 1, Bytes: uint64(len(blob))},
	})
	assert.NilError(t, err)
	resp, raw = e.do(t, http.MethodPut, "/repos/"+repoID+"/objects/snaps/"+snapID, snap)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusCreated), "put snap: %s", raw)
	return snapID
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.url + "/healthz")
	assert.NilError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)

	assert.Check(t, is.Equal(resp.StatusCode, http.StatusOK))
	assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"status":"ok"}`))
}

func TestAuthRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		resp, err := http.Get(env.url + "/repos")
		assert.NilError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusUnauthorized))
		assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"unauthorized"}`))
		assert.Check(t, is.Contains(resp.Header.Get("Content-Type"), "application/json"))
	})

	t.Run("bad token", func(t *testing.T) {
		resp, raw := env.doAs(t, "not-a-real-token", http.MethodGet, "/repos", nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusUnauthorized))
		assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"unauthorized"}`))
	})

	t.Run("unknown path is 404 without auth", func(t *testing.T) {
		resp, err := http.Get(env.url + "/no/such/route")
		assert.NilError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusNotFound))
		assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"page not found"}`))
	})
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/whoami", nil)
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusOK))

	var who daemon.WhoAmIResponse
	decode(t, raw, &who)
	assert.Check(t, is.Equal(who.User, "dev"))
	assert.Check(t, who.Admin)
	assert.Check(t, who.UserID != "")
}

func TestRepoLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/repos", map[string]string{"id": "proj"})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var created repo.Repo
	decode(t, raw, &created)
	assert.Check(t, is.Equal(created.ID, "proj"))
	assert.Check(t, is.Equal(created.Owner, "dev"))

	resp, raw = env.do(t, http.MethodGet, "/repos", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var listed []repo.Repo
	decode(t, raw, &listed)
	assert.Assert(t, is.Len(listed, 1))
	assert.Check(t, is.Equal(listed[0].ID, "proj"))

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/permissions", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var perms daemon.Permissions
	decode(t, raw, &perms)
	assert.Check(t, perms.Read)
	assert.Check(t, perms.Publish)

	resp, raw = env.do(t, http.MethodGet, "/repos/ghost", nil)
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusNotFound))
	assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"not found"}`))

	// Membership mutations need a real account to grant to.
	resp, raw = env.do(t, http.MethodPost, "/users", map[string]string{"handle": "alice"})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)

	role := "publish"
	resp, raw = env.do(t, http.MethodPost, "/repos/proj/members", daemon.MemberRequest{Handle: "alice", Role: &role})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"ok":true}`))

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/members", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var members daemon.RepoMembers
	decode(t, raw, &members)
	assert.Check(t, members.Publishers.Contains("alice"))
	assert.Check(t, members.Readers.Contains("alice"))

	resp, raw = env.do(t, http.MethodDelete, "/repos/proj/members/alice", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"ok":true}`))
}

func TestObjectRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.createRepo(t, "proj")

	content := []byte("converge blob payload")
	blobID := object.DigestBytes(content)

	resp, raw := env.do(t, http.MethodPut, "/repos/proj/objects/blobs/"+blobID, content)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusCreated), "%s", raw)
	assert.Check(t, is.Len(raw, 0))

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/objects/blobs/"+blobID, nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	assert.Check(t, is.Equal(resp.Header.Get("Content-Type"), "application/octet-stream"))
	assert.Check(t, bytes.Equal(raw, content))

	t.Run("hash mismatch rejected", func(t *testing.T) {
		wrongID := object.DigestBytes([]byte("something else"))
		resp, raw := env.do(t, http.MethodPut, "/repos/proj/objects/blobs/"+wrongID, content)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
		assert.Check(t, is.Contains(string(raw), "blob hash mismatch"))
	})

	t.Run("missing blob is 404", func(t *testing.T) {
		absent := object.DigestBytes([]byte("never uploaded"))
		resp, raw := env.do(t, http.MethodGet, "/repos/proj/objects/blobs/"+absent, nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusNotFound))
		assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"not found"}`))
	})

	t.Run("missing objects query", func(t *testing.T) {
		absent := object.DigestBytes([]byte("never uploaded"))
		resp, raw := env.do(t, http.MethodPost, "/repos/proj/objects/missing", daemon.MissingObjectsRequest{
			Blobs: []string{blobID, absent},
		})
		assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
		var missing daemon.MissingObjectsResponse
		decode(t, raw, &missing)
		assert.Check(t, is.DeepEqual(missing.MissingBlobs, []string{absent}))
		assert.Check(t, is.Len(missing.MissingManifests, 0))
	})
}

func TestGateGraphRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createRepo(t, "proj")

	graph := map[string]interface{}{
		"version": 1,
		"gates": []map[string]interface{}{
			{"id": "team", "name": "Team", "upstream": []string{"ghost"}},
		},
	}
	resp, raw := env.do(t, http.MethodPut, "/repos/proj/gate-graph", graph)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusBadRequest), "%s", raw)

	var body struct {
		Error  string            `json:"error"`
		Issues []repo.GraphIssue `json:"issues"`
	}
	decode(t, raw, &body)
	assert.Check(t, is.Equal(body.Error, "invalid gate graph"))
	assert.Assert(t, is.Len(body.Issues, 1))
	assert.Check(t, is.Equal(body.Issues[0].Code, "unknown_upstream"))
	assert.Check(t, is.Equal(body.Issues[0].Upstream, "ghost"))

	// The stored graph is untouched by a rejected update.
	resp, raw = env.do(t, http.MethodGet, "/repos/proj/gate-graph", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var stored repo.GateGraph
	decode(t, raw, &stored)
	assert.Assert(t, is.Len(stored.Gates, 1))
	assert.Check(t, is.Equal(stored.Gates[0].ID, "dev-intake"))
}

func TestPublishPromoteReleaseFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createRepo(t, "proj")

	graph := repo.GateGraph{
		Version: 1,
		Gates: []repo.GateDef{
			{ID: "dev-intake", Name: "Dev Intake", Upstream: []string{}, AllowReleases: true},
			{ID: "team", Name: "Team", Upstream: []string{"dev-intake"}, AllowReleases: true},
		},
	}
	resp, raw := env.do(t, http.MethodPut, "/repos/proj/gate-graph", graph)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)

	snapID := env.uploadSnap(t, "proj", "flow content", "2024-05-06T07:08:09.000000001Z")

	resp, raw = env.do(t, http.MethodPost, "/repos/proj/lanes/default/heads/me", daemon.UpdateLaneHeadRequest{SnapID: snapID})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/lanes/default/heads/dev", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var head repo.LaneHead
	decode(t, raw, &head)
	assert.Check(t, is.Equal(head.SnapID, snapID))

	resp, raw = env.do(t, http.MethodPost, "/repos/proj/publications", daemon.CreatePublicationRequest{
		SnapID: snapID,
		Scope:  "main",
		Gate:   "dev-intake",
	})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var pub repo.Publication
	decode(t, raw, &pub)
	assert.Check(t, is.Equal(pub.SnapID, snapID))
	assert.Check(t, is.Equal(pub.Publisher, "dev"))

	resp, raw = env.do(t, http.MethodPost, "/repos/proj/bundles", daemon.CreateBundleRequest{
		Scope:             "main",
		Gate:              "dev-intake",
		InputPublications: []string{pub.ID},
	})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var bundle repo.Bundle
	decode(t, raw, &bundle)
	assert.Check(t, bundle.Promotable)
	assert.Check(t, is.Len(bundle.Reasons, 0))

	resp, raw = env.do(t, http.MethodPost, "/repos/proj/promotions", daemon.CreatePromotionRequest{
		BundleID: bundle.ID,
		ToGate:   "team",
	})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var promo repo.Promotion
	decode(t, raw, &promo)
	assert.Check(t, is.Equal(promo.FromGate, "dev-intake"))
	assert.Check(t, is.Equal(promo.ToGate, "team"))

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/promotion-state?scope=main", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var state map[string]string
	decode(t, raw, &state)
	assert.Check(t, is.Equal(state["team"], bundle.ID))

	t.Run("promotion state requires scope", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodGet, "/repos/proj/promotion-state", nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
	})

	resp, raw = env.do(t, http.MethodPost, "/repos/proj/releases", daemon.CreateReleaseRequest{
		Channel:  "stable",
		BundleID: bundle.ID,
	})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var rel repo.Release
	decode(t, raw, &rel)
	assert.Check(t, is.Equal(rel.Channel, "stable"))
	assert.Check(t, is.Equal(rel.BundleID, bundle.ID))

	resp, raw = env.do(t, http.MethodGet, "/repos/proj/releases/stable", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var headRel repo.Release
	decode(t, raw, &headRel)
	assert.Check(t, is.Equal(headRel.ID, rel.ID))
}

func TestGCOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.createRepo(t, "proj")
	env.uploadSnap(t, "proj", "unreferenced content", "2024-05-06T07:08:09.000000002Z")

	t.Run("bare post is a dry run", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/repos/proj/gc", nil)
		assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
		var report daemon.GCReport
		decode(t, raw, &report)
		assert.Check(t, report.DryRun)
		assert.Check(t, report.PruneMetadata)
		assert.Check(t, is.Equal(report.Deleted.Snaps, 1))

		// Dry run left the snap in place.
		resp, _ = env.do(t, http.MethodPost, "/repos/proj/gc", nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusOK))
	})

	t.Run("destructive without metadata pruning refused", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/repos/proj/gc?dry_run=false&prune_metadata=false", nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
		assert.Check(t, is.Contains(string(raw), "refusing destructive GC"))
	})

	t.Run("keep last must be positive", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/repos/proj/gc?prune_releases_keep_last=0", nil)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
		assert.Check(t, is.Contains(string(raw), "prune_releases_keep_last must be >= 1"))
	})

	t.Run("real run deletes", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/repos/proj/gc?dry_run=false", nil)
		assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
		var report daemon.GCReport
		decode(t, raw, &report)
		assert.Check(t, !report.DryRun)
		assert.Check(t, is.Equal(report.Deleted.Snaps, 1))

		resp, raw = env.do(t, http.MethodPost, "/repos/proj/gc", nil)
		assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
		decode(t, raw, &report)
		assert.Check(t, is.Equal(report.Deleted.Snaps, 0))
	})
}

func TestRequestBodyValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong content type", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.url+"/repos", strings.NewReader(`{"id":"proj"}`))
		assert.NilError(t, err)
		req.Header.Set("Authorization", "Bearer "+env.token)
		req.Header.Set("Content-Type", "text/plain")
		resp, err := http.DefaultClient.Do(req)
		assert.NilError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
		assert.Check(t, is.Contains(string(raw), "unsupported Content-Type header"))
	})

	t.Run("malformed json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.url+"/repos", strings.NewReader(`{"id":`))
		assert.NilError(t, err)
		req.Header.Set("Authorization", "Bearer "+env.token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		assert.NilError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
		assert.Check(t, is.Contains(string(raw), "invalid JSON"))
	})
}

func TestUserTokenFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/users", map[string]string{"handle": "alice"})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var alice identity.User
	decode(t, raw, &alice)
	assert.Check(t, is.Equal(alice.Handle, "alice"))
	assert.Check(t, !alice.Admin)

	resp, raw = env.do(t, http.MethodPost, fmt.Sprintf("/users/%s/tokens", alice.ID), daemon.CreateTokenRequest{})
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var minted daemon.TokenCreated
	decode(t, raw, &minted)
	assert.Assert(t, minted.Token != "")

	resp, raw = env.doAs(t, minted.Token, http.MethodGet, "/whoami", nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK))
	var who daemon.WhoAmIResponse
	decode(t, raw, &who)
	assert.Check(t, is.Equal(who.User, "alice"))
	assert.Check(t, !who.Admin)

	resp, raw = env.do(t, http.MethodPost, fmt.Sprintf("/tokens/%s/revoke", minted.ID), nil)
	assert.Assert(t, is.Equal(resp.StatusCode, http.StatusOK), "%s", raw)
	var revoked daemon.RevokeTokenResponse
	decode(t, raw, &revoked)
	assert.Check(t, revoked.Revoked)
	assert.Check(t, is.Equal(revoked.TokenID, minted.ID))

	resp, raw = env.doAs(t, minted.Token, http.MethodGet, "/whoami", nil)
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusUnauthorized))
	assert.Check(t, is.Equal(strings.TrimSpace(string(raw)), `{"error":"unauthorized"}`))
}
