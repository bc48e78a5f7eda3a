// Package access decides whether an identity may act on a document.
// Authentication happens elsewhere; this package only sees its result.
package access

import (
	"context"
	"strings"

	"docrag/internal/document"
)

type identityKeyType string

const identityKey identityKeyType = "identity"

// Identity is the authenticated caller.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored in ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || strings.TrimSpace(id.UserID) == "" {
		return Identity{}, false
	}
	return id, true
}

// Checker decides whether an identity may access a document.
type Checker interface {
	CanAccess(ctx context.Context, id Identity, doc *document.Document) (bool, error)
}

// ShareLookup reports whether a document was shared with a user.
type ShareLookup interface {
	IsShared(ctx context.Context, documentID, userID string) (bool, error)
}

// OwnerPolicy allows admins, owners and, when Shares is set, users the
// document was shared with.
type OwnerPolicy struct {
	Shares ShareLookup
}

// CanAccess implements Checker.
func (p OwnerPolicy) CanAccess(ctx context.Context, id Identity, doc *document.Document) (bool, error) {
	if doc == nil {
		return false, nil
	}
	if id.IsAdmin {
		return true, nil
	}
	if id.UserID == "" {
		return false, nil
	}
	if doc.OwnerID == id.UserID {
		return true, nil
	}
	if p.Shares == nil {
		return false, nil
	}
	return p.Shares.IsShared(ctx, doc.ID, id.UserID)
}

// Require returns a *document.ForbiddenError unless id may access doc.
func Require(ctx context.Context, checker Checker, id Identity, doc *document.Document) error {
	ok, err := checker.CanAccess(ctx, id, doc)
	if err != nil {
		return err
	}
	if !ok {
		return document.NewForbiddenError("document", doc.ID)
	}
	return nil
}
