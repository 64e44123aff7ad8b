// Package identity resolves the signed-in principal and the matching user
// profile record.
package identity

import (
	"context"
	"fmt"

	"github.com/klipach/courier/auth"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
)

// Sessions is the part of an auth provider the resolver reads.
type Sessions interface {
	CurrentPrincipal() (auth.Principal, bool)
}

type Resolver struct {
	sessions Sessions
	store    docstore.Store
}

func NewResolver(sessions Sessions, store docstore.Store) *Resolver {
	return &Resolver{sessions: sessions, store: store}
}

// CurrentUser returns the signed-in user id. Absence is not an error.
func (r *Resolver) CurrentUser() (string, bool) {
	principal, ok := r.sessions.CurrentPrincipal()
	if !ok || principal.UID == "" {
		return "", false
	}
	return principal.UID, true
}

// Profile reads users/{uid} for the signed-in user. It returns (nil, nil)
// when nobody is signed in.
func (r *Resolver) Profile(ctx context.Context) (*contract.User, error) {
	uid, ok := r.CurrentUser()
	if !ok {
		return nil, nil
	}
	snap, err := r.store.Get(ctx, contract.UserRef(uid))
	if err != nil {
		return nil, fmt.Errorf("profile of %s: %w", uid, err)
	}
	user, err := contract.UserFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
