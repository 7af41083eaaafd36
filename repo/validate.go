package repo

import (
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// Name validators for the identifiers that appear in URL paths and
// persisted records. All of them reject anything outside the lowercase
// alnum-and-dash alphabet; scopes additionally allow '/' so teams can
// namespace them.

func ValidateRepoID(id string) error {
	if id == "" {
		return errdefs.InvalidParameter(errors.New("repo id cannot be empty"))
	}
	if !lowerAlnumDash(id, false) {
		return errdefs.InvalidParameter(errors.New("repo id must be lowercase alnum or '-'"))
	}
	return nil
}

func ValidateScopeID(id string) error {
	if id == "" {
		return errdefs.InvalidParameter(errors.New("scope id cannot be empty"))
	}
	if !lowerAlnumDash(id, true) {
		return errdefs.InvalidParameter(errors.New("scope id must be lowercase alnum or '-', '/'"))
	}
	return nil
}

func ValidateGateID(id string) error {
	if id == "" {
		return errdefs.InvalidParameter(errors.New("gate id cannot be empty"))
	}
	if !lowerAlnumDash(id, false) {
		return errdefs.InvalidParameter(errors.New("gate id must be lowercase alnum or '-'"))
	}
	return nil
}

func ValidateLaneID(id string) error {
	if id == "" {
		return errdefs.InvalidParameter(errors.New("lane id cannot be empty"))
	}
	if !lowerAlnumDash(id, false) {
		return errdefs.InvalidParameter(errors.New("lane id must be lowercase alnum or '-'"))
	}
	return nil
}

func ValidateReleaseChannel(id string) error {
	if id == "" {
		return errdefs.InvalidParameter(errors.New("release channel cannot be empty"))
	}
	if !lowerAlnumDash(id, false) {
		return errdefs.InvalidParameter(errors.New("release channel must be lowercase alnum or '-'"))
	}
	return nil
}

func lowerAlnumDash(s string, allowSlash bool) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		case c == '/' && allowSlash:
		default:
			return false
		}
	}
	return true
}
