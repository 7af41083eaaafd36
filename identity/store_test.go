package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/object"
)

func newSeededStore(t *testing.T) (*Store, Subject) {
	t.Helper()
	s, err := NewStore(t.TempDir())
	assert.NilError(t, err)
	assert.NilError(t, s.SeedDev("dev", "dev"))
	subject, err := s.Authenticate("dev")
	assert.NilError(t, err)
	return s, subject
}

func TestValidateHandle(t *testing.T) {
	assert.NilError(t, ValidateHandle("ada-lovelace"))
	assert.NilError(t, ValidateHandle("user2"))

	err := ValidateHandle("")
	assert.Check(t, is.Error(err, "user handle cannot be empty"))
	err = ValidateHandle("Ada")
	assert.Check(t, is.Error(err, "user handle must be lowercase alnum or '-'"))
	err = ValidateHandle("a_b")
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestSeedDevAndAuthenticate(t *testing.T) {
	s, subject := newSeededStore(t)

	assert.Check(t, is.Equal(subject.User, "dev"))
	assert.Check(t, subject.Admin)
	assert.Check(t, subject.UserID != "")

	_, err := s.Authenticate("wrong")
	assert.Check(t, is.Error(err, "unauthorized"))
	assert.Check(t, errdefs.IsUnauthorized(err))
}

func TestSeedDevTokenIDDerivation(t *testing.T) {
	s, subject := newSeededStore(t)

	views := s.ListTokens(subject.UserID)
	assert.Assert(t, is.Len(views, 1))
	wantID := object.DigestParts(subject.UserID, HashSecret("dev"))
	assert.Check(t, is.Equal(views[0].ID, wantID))
	assert.Check(t, is.Equal(*views[0].Label, "bootstrap"))
}

func TestMintTokenAndAuthenticate(t *testing.T) {
	s, subject := newSeededStore(t)

	label := "ci"
	tok, secret, err := s.MintToken(subject.UserID, &label, nil)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(len(secret), 64))
	assert.Check(t, is.Equal(tok.ID, object.DigestParts(subject.UserID, HashSecret(secret), tok.CreatedAt)))

	got, err := s.Authenticate(secret)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got.UserID, subject.UserID))

	// Views never leak the hash.
	views := s.ListTokens(subject.UserID)
	b, err := json.Marshal(views)
	assert.NilError(t, err)
	assert.Check(t, !strings.Contains(string(b), tok.TokenHash))
}

func TestRevokeToken(t *testing.T) {
	s, subject := newSeededStore(t)

	tok, secret, err := s.MintToken(subject.UserID, nil, nil)
	assert.NilError(t, err)

	_, err = s.RevokeToken(subject, object.DigestParts("no such token"))
	assert.Check(t, errdefs.IsNotFound(err))

	revokedAt, err := s.RevokeToken(subject, tok.ID)
	assert.NilError(t, err)
	assert.Check(t, revokedAt != "")

	_, err = s.Authenticate(secret)
	assert.Check(t, is.Error(err, "unauthorized"))
}

func TestRevokeTokenForbiddenForOtherUser(t *testing.T) {
	s, subject := newSeededStore(t)

	other, err := s.CreateUser("mallory", nil, false)
	assert.NilError(t, err)
	tok, _, err := s.MintToken(other.ID, nil, nil)
	assert.NilError(t, err)

	intruder := Subject{UserID: "someone-else", User: "someone", Admin: false}
	_, err = s.RevokeToken(intruder, tok.ID)
	assert.Check(t, is.Error(err, "forbidden"))
	assert.Check(t, errdefs.IsForbidden(err))

	// Admins can revoke anyone's token.
	_, err = s.RevokeToken(subject, tok.ID)
	assert.NilError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	s, subject := newSeededStore(t)

	past := "2000-01-01T00:00:00.000000000Z"
	_, secret, err := s.MintToken(subject.UserID, nil, &past)
	assert.NilError(t, err)

	_, err = s.Authenticate(secret)
	assert.Check(t, is.Error(err, "unauthorized"))

	future := "2999-01-01T00:00:00.000000000Z"
	_, secret, err = s.MintToken(subject.UserID, nil, &future)
	assert.NilError(t, err)
	_, err = s.Authenticate(secret)
	assert.NilError(t, err)
}

func TestBootstrapOneShot(t *testing.T) {
	s, err := NewStore(t.TempDir())
	assert.NilError(t, err)

	user, tok, secret, err := s.Bootstrap("root-user", nil)
	assert.NilError(t, err)
	assert.Check(t, user.Admin)
	assert.Check(t, is.Equal(user.ID, object.DigestParts("root-user", user.CreatedAt)))
	assert.Check(t, is.Equal(*tok.Label, "bootstrap"))

	subject, err := s.Authenticate(secret)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(subject.User, "root-user"))

	_, _, _, err = s.Bootstrap("second-admin", nil)
	assert.Check(t, is.Error(err, "already bootstrapped"))
	assert.Check(t, errdefs.IsConflict(err))
}

func TestCreateUserConflict(t *testing.T) {
	s, _ := newSeededStore(t)

	u, err := s.CreateUser("grace", nil, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(u.ID, object.DigestParts("grace", u.CreatedAt)))

	_, err = s.CreateUser("grace", nil, true)
	assert.Check(t, is.Error(err, "user handle already exists"))
	assert.Check(t, errdefs.IsConflict(err))
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	assert.NilError(t, err)
	assert.NilError(t, s.SeedDev("dev", "dev"))
	_, err = s.CreateUser("ada", nil, false)
	assert.NilError(t, err)

	// users.json is a sorted array, so loading keeps every account.
	reloaded, err := NewStore(dir)
	assert.NilError(t, err)
	users := reloaded.ListUsers()
	assert.Assert(t, is.Len(users, 2))
	assert.Check(t, is.Equal(users[0].Handle, "ada"))
	assert.Check(t, is.Equal(users[1].Handle, "dev"))

	subject, err := reloaded.Authenticate("dev")
	assert.NilError(t, err)
	assert.Check(t, subject.Admin)

	// On-disk files are valid JSON arrays.
	for _, name := range []string{"users.json", "tokens.json"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		assert.NilError(t, err)
		var anyList []map[string]any
		assert.NilError(t, json.Unmarshal(b, &anyList))
	}
}

func TestHandleToID(t *testing.T) {
	s, subject := newSeededStore(t)
	u, err := s.CreateUser("ada", nil, false)
	assert.NilError(t, err)

	m := s.HandleToID()
	assert.Check(t, is.Equal(m["dev"], subject.UserID))
	assert.Check(t, is.Equal(m["ada"], u.ID))
}
