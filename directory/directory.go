// Package directory reads and writes the registered user records.
package directory

import (
	"context"
	"log/slog"
	"sort"

	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/log"
)

type Directory struct {
	store docstore.Store
}

func New(store docstore.Store) *Directory {
	return &Directory{store: store}
}

// ListUsers fetches every registered user, the caller included. On a backend
// failure it returns an empty slice along with the error.
func (d *Directory) ListUsers(ctx context.Context) ([]contract.User, error) {
	logger := log.LoggerFromContext(ctx)

	snaps, err := d.store.List(ctx, docstore.Collection(contract.UsersCollection))
	if err != nil {
		logger.Error("failed to list users", log.Err(err))
		return []contract.User{}, err
	}
	users := make([]contract.User, 0, len(snaps))
	for _, snap := range snaps {
		user, err := contract.UserFromSnapshot(snap)
		if err != nil {
			logger.Warn("skipping malformed user record",
				slog.String(log.PathLogField, snap.Ref.Path()),
				log.Err(err),
			)
			continue
		}
		users = append(users, user)
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// ListContacts is ListUsers without selfID.
func (d *Directory) ListContacts(ctx context.Context, selfID string) ([]contract.User, error) {
	users, err := d.ListUsers(ctx)
	if err != nil {
		return users, err
	}
	contacts := users[:0]
	for _, u := range users {
		if u.UID != selfID {
			contacts = append(contacts, u)
		}
	}
	return contacts, nil
}

func (d *Directory) Get(ctx context.Context, uid string) (contract.User, error) {
	snap, err := d.store.Get(ctx, contract.UserRef(uid))
	if err != nil {
		return contract.User{}, err
	}
	return contract.UserFromSnapshot(snap)
}

// Put writes users/{uid}, replacing any previous record.
func (d *Directory) Put(ctx context.Context, user contract.User) error {
	return d.store.Set(ctx, contract.UserRef(user.UID), user.Fields())
}
