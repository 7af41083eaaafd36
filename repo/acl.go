package repo

import "github.com/convergeio/converge/identity"

// Access checks match subjects by handle or by user ID so permissions
// survive handle renames. Admins pass everything; owners hold both
// read and publish implicitly.

func isOwner(r *Repo, s identity.Subject) bool {
	if r.Owner != "" && r.Owner == s.User {
		return true
	}
	return r.OwnerUserID != nil && *r.OwnerUserID == s.UserID
}

// CanRead reports whether the subject may see the repo at all.
func CanRead(r *Repo, s identity.Subject) bool {
	if s.Admin || isOwner(r, s) {
		return true
	}
	if r.Readers.Contains(s.User) || r.ReaderUserIDs.Contains(s.UserID) {
		return true
	}
	return r.Publishers.Contains(s.User) || r.PublisherUserIDs.Contains(s.UserID)
}

// CanPublish reports whether the subject may write objects and create
// publications, bundles, promotions and releases.
func CanPublish(r *Repo, s identity.Subject) bool {
	if s.Admin || isOwner(r, s) {
		return true
	}
	return r.Publishers.Contains(s.User) || r.PublisherUserIDs.Contains(s.UserID)
}

// CanManage reports whether the subject may change membership. Only
// admins and the owner by user ID qualify; a handle match alone is not
// enough to hand out permissions.
func CanManage(r *Repo, s identity.Subject) bool {
	if s.Admin {
		return true
	}
	return r.OwnerUserID != nil && *r.OwnerUserID == s.UserID
}

// HasMember reports lane membership by handle or user ID.
func (l *Lane) HasMember(s identity.Subject) bool {
	return l.Members.Contains(s.User) || l.MemberUserIDs.Contains(s.UserID)
}
