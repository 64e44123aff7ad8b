package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, d *Directory, users ...contract.User) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, d.Put(context.Background(), u))
	}
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	d := New(docstore.NewMemory())

	users, err := d.ListUsers(ctx)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)

	seed(t, d,
		contract.User{UID: "u2", Email: "b@example.com"},
		contract.User{UID: "u1", Email: "a@example.com"},
	)
	users, err = d.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []contract.User{
		{UID: "u1", Email: "a@example.com"},
		{UID: "u2", Email: "b@example.com"},
	}, users)
}

func TestListContactsExcludesSelf(t *testing.T) {
	d := New(docstore.NewMemory())
	seed(t, d,
		contract.User{UID: "u1", Email: "a@example.com"},
		contract.User{UID: "u2", Email: "b@example.com"},
		contract.User{UID: "u3", Email: "c@example.com"},
	)

	contacts, err := d.ListContacts(context.Background(), "u2")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	for _, c := range contacts {
		assert.NotEqual(t, "u2", c.UID)
	}
}

func TestListUsersBackendFailure(t *testing.T) {
	boom := errors.New("unavailable")
	store := docstore.NewMemory(docstore.WithFault(func(op docstore.Op, _ string) error {
		if op == docstore.OpList {
			return boom
		}
		return nil
	}))
	d := New(store)

	users, err := d.ListUsers(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	d := New(store)

	_, err := d.Get(ctx, "u1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, contract.UserRef("u1"), docstore.Fields{"email": "a@example.com"}))
	user, err := d.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, contract.User{UID: "u1", Email: "a@example.com"}, user)
}
