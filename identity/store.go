package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/object"
)

// Fixed-width timestamps keep lexicographic and chronological order the
// same, which expiry checks rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func nowRFC3339() string {
	return time.Now().UTC().Format(timeFormat)
}

// GenerateSecret returns a fresh bearer secret: 32 random bytes, hex.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errdefs.System(errors.Wrap(err, "generate token secret"))
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret hashes a bearer secret for storage and lookup.
func HashSecret(secret string) string {
	return digest.FromString(secret).Encoded()
}

// Store holds users and tokens in memory and mirrors every change to
// users.json and tokens.json in the data directory.
type Store struct {
	mu     sync.RWMutex
	dir    string
	users  map[string]*User
	tokens map[string]*AccessToken
	byHash map[string]string
}

// NewStore loads the identity files from dir. Missing files mean an
// empty store.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:    dir,
		users:  map[string]*User{},
		tokens: map[string]*AccessToken{},
		byHash: map[string]string{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) usersPath() string  { return filepath.Join(s.dir, "users.json") }
func (s *Store) tokensPath() string { return filepath.Join(s.dir, "tokens.json") }

func (s *Store) load() error {
	b, err := os.ReadFile(s.usersPath())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return errdefs.System(errors.Wrap(err, "read users.json"))
	default:
		var list []*User
		if err := json.Unmarshal(b, &list); err != nil {
			return errdefs.System(errors.Wrap(err, "parse users.json"))
		}
		for _, u := range list {
			s.users[u.ID] = u
		}
	}

	b, err = os.ReadFile(s.tokensPath())
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return errdefs.System(errors.Wrap(err, "read tokens.json"))
	default:
		var list []*AccessToken
		if err := json.Unmarshal(b, &list); err != nil {
			return errdefs.System(errors.Wrap(err, "parse tokens.json"))
		}
		for _, t := range list {
			s.tokens[t.ID] = t
			s.byHash[t.TokenHash] = t.ID
		}
	}
	return nil
}

func (s *Store) persistLocked() error {
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Handle < users[j].Handle })
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return errdefs.System(errors.Wrap(err, "serialize users"))
	}
	if err := atomicwriter.WriteFile(s.usersPath(), b, 0o600); err != nil {
		return errdefs.System(errors.Wrap(err, "write users.json"))
	}

	tokens := make([]*AccessToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CreatedAt < tokens[j].CreatedAt })
	b, err = json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return errdefs.System(errors.Wrap(err, "serialize tokens"))
	}
	if err := atomicwriter.WriteFile(s.tokensPath(), b, 0o600); err != nil {
		return errdefs.System(errors.Wrap(err, "write tokens.json"))
	}
	return nil
}

// HasUsers reports whether any user is loaded.
func (s *Store) HasUsers() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users) > 0
}

// HasTokens reports whether any token is loaded.
func (s *Store) HasTokens() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) > 0
}

// SeedDev installs the development identity: an admin user with a known
// bearer secret. Only used when no bootstrap token is configured.
func (s *Store) SeedDev(handle, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := nowRFC3339()
	userID := object.DigestParts(handle, createdAt)
	hash := HashSecret(secret)
	label := "bootstrap"
	tok := &AccessToken{
		ID:        object.DigestParts(userID, hash),
		UserID:    userID,
		TokenHash: hash,
		Label:     &label,
		CreatedAt: createdAt,
	}
	s.users[userID] = &User{ID: userID, Handle: handle, Admin: true, CreatedAt: createdAt}
	s.tokens[tok.ID] = tok
	s.byHash[hash] = tok.ID
	return s.persistLocked()
}

// Authenticate resolves a bearer secret to a subject. Unknown, revoked
// and expired tokens all fail identically. Last use is recorded in
// memory and hits disk with the next identity change.
func (s *Store) Authenticate(secret string) (Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[HashSecret(secret)]
	if !ok {
		return Subject{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	tok := s.tokens[id]
	now := nowRFC3339()
	if tok == nil || tok.RevokedAt != nil || (tok.ExpiresAt != nil && *tok.ExpiresAt <= now) {
		return Subject{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	user, ok := s.users[tok.UserID]
	if !ok {
		return Subject{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	tok.LastUsedAt = &now
	return Subject{UserID: user.ID, User: user.Handle, Admin: user.Admin}, nil
}

// MintToken creates a token for userID and returns the stored record
// plus the secret, which is not recoverable later.
func (s *Store) MintToken(userID string, label, expiresAt *string) (AccessToken, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return AccessToken{}, "", err
	}
	hash := HashSecret(secret)
	createdAt := nowRFC3339()
	tok := &AccessToken{
		ID:        object.DigestParts(userID, hash, createdAt),
		UserID:    userID,
		TokenHash: hash,
		Label:     label,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.ID] = tok
	s.byHash[hash] = tok.ID
	if err := s.persistLocked(); err != nil {
		return AccessToken{}, "", err
	}
	return *tok, secret, nil
}

// Bootstrap creates the first admin and its token in one shot. It
// refuses once any admin exists, which makes bootstrap one-time per
// data directory.
func (s *Store) Bootstrap(handle string, displayName *string) (User, AccessToken, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Admin {
			return User{}, AccessToken{}, "", errdefs.Conflict(errors.New("already bootstrapped"))
		}
	}
	for _, u := range s.users {
		if u.Handle == handle {
			return User{}, AccessToken{}, "", errdefs.Conflict(errors.New("user handle already exists"))
		}
	}

	secret, err := GenerateSecret()
	if err != nil {
		return User{}, AccessToken{}, "", err
	}
	createdAt := nowRFC3339()
	userID := object.DigestParts(handle, createdAt)
	user := &User{ID: userID, Handle: handle, DisplayName: displayName, Admin: true, CreatedAt: createdAt}

	hash := HashSecret(secret)
	label := "bootstrap"
	tok := &AccessToken{
		ID:        object.DigestParts(userID, hash, createdAt),
		UserID:    userID,
		TokenHash: hash,
		Label:     &label,
		CreatedAt: createdAt,
	}

	s.users[userID] = user
	s.tokens[tok.ID] = tok
	s.byHash[hash] = tok.ID
	if err := s.persistLocked(); err != nil {
		return User{}, AccessToken{}, "", err
	}
	return *user, *tok, secret, nil
}

// CreateUser adds a user. IDs derive from the handle and creation time,
// so re-creating a handle never resurrects an old identity.
func (s *Store) CreateUser(handle string, displayName *string, admin bool) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Handle == handle {
			return User{}, errdefs.Conflict(errors.New("user handle already exists"))
		}
	}
	createdAt := nowRFC3339()
	user := &User{
		ID:          object.DigestParts(handle, createdAt),
		Handle:      handle,
		DisplayName: displayName,
		Admin:       admin,
		CreatedAt:   createdAt,
	}
	s.users[user.ID] = user
	if err := s.persistLocked(); err != nil {
		return User{}, err
	}
	return *user, nil
}

// RevokeToken marks a token revoked. Only the owner or an admin may
// revoke; revoked tokens stay on disk as an audit record.
func (s *Store) RevokeToken(subject Subject, tokenID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tokenID]
	if !ok {
		return "", errdefs.NotFound(errors.New("not found"))
	}
	if tok.UserID != subject.UserID && !subject.Admin {
		return "", errdefs.Forbidden(errors.New("forbidden"))
	}
	revokedAt := nowRFC3339()
	tok.RevokedAt = &revokedAt
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return revokedAt, nil
}

// ListTokens returns the API views of one user's tokens, newest first.
func (s *Store) ListTokens(userID string) []TokenView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []TokenView{}
	for _, t := range s.tokens {
		if t.UserID != userID {
			continue
		}
		out = append(out, t.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// ListUsers returns every user, sorted by handle.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []User{}
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// UserByID looks up a user.
func (s *Store) UserByID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// UserByHandle looks up a user by handle.
func (s *Store) UserByHandle(handle string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Handle == handle {
			return *u, true
		}
	}
	return User{}, false
}

// HandleToID maps every current handle to its user ID. Used to backfill
// user IDs on records persisted before IDs were tracked.
func (s *Store) HandleToID() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.users))
	for _, u := range s.users {
		out[u.Handle] = u.ID
	}
	return out
}
