package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/klipach/courier/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSaveLoadClear(t *testing.T) {
	c := openCache(t)

	_, err := c.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	saved := auth.Principal{
		UID:       "u1",
		Email:     "a@example.com",
		IDToken:   "token",
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Save(saved))

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, saved.UID, loaded.UID)
	assert.Equal(t, saved.IDToken, loaded.IDToken)
	assert.True(t, saved.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, c.Clear())
	_, err = c.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRestore(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		saved       *auth.Principal
		expectedUID string
	}{
		{name: "No Session"},
		{
			name:        "Valid Session",
			saved:       &auth.Principal{UID: "u1", ExpiresAt: now.Add(time.Hour)},
			expectedUID: "u1",
		},
		{
			name:  "Expired Session",
			saved: &auth.Principal{UID: "u1", ExpiresAt: now.Add(-time.Hour)},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := openCache(t)
			if test.saved != nil {
				require.NoError(t, c.Save(*test.saved))
			}
			provider := auth.NewMemoryProvider()
			require.NoError(t, Restore(c, provider, now))

			principal, ok := provider.CurrentPrincipal()
			assert.Equal(t, test.expectedUID != "", ok)
			assert.Equal(t, test.expectedUID, principal.UID)
		})
	}
}
