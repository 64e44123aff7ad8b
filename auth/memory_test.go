package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderRegister(t *testing.T) {
	tests := []struct {
		name        string
		email       string
		password    string
		expectedErr error
	}{
		{name: "Valid", email: "a@example.com", password: "secret1"},
		{name: "Invalid Email", email: "not-an-email", password: "secret1", expectedErr: ErrInvalidEmail},
		{name: "Weak Password", email: "b@example.com", password: "12345", expectedErr: ErrWeakPassword},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := NewMemoryProvider()
			principal, err := p.Register(context.Background(), test.email, test.password)
			if test.expectedErr != nil {
				assert.ErrorIs(t, err, test.expectedErr)
				assert.ErrorIs(t, err, ErrAuth)
				_, ok := p.CurrentPrincipal()
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, principal.UID)
			assert.Equal(t, test.email, principal.Email)

			current, ok := p.CurrentPrincipal()
			require.True(t, ok)
			assert.Equal(t, principal.UID, current.UID)
		})
	}
}

func TestMemoryProviderDuplicateAccount(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	_, err := p.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	_, err = p.Register(ctx, "A@Example.com ", "other-secret")
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestMemoryProviderLogin(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	registered, err := p.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	p.SignOut()

	_, ok := p.CurrentPrincipal()
	assert.False(t, ok)

	_, err = p.Login(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	principal, err := p.Login(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.UID, principal.UID)

	token, err := p.VerifyIDToken(ctx, principal.IDToken)
	require.NoError(t, err)
	assert.Equal(t, registered.UID, token.UID)
}

func TestRestore(t *testing.T) {
	p := NewMemoryProvider()
	p.Restore(Principal{UID: "u1", Email: "a@example.com"})
	current, ok := p.CurrentPrincipal()
	require.True(t, ok)
	assert.Equal(t, "u1", current.UID)

	p.Restore(Principal{})
	_, ok = p.CurrentPrincipal()
	assert.False(t, ok)
}

func TestAuthenticate(t *testing.T) {
	p := NewMemoryProvider()
	token := p.IssueToken("u1")

	tests := []struct {
		name          string
		authorization string
		expectedUID   string
		expectedErr   error
	}{
		{name: "Valid Token", authorization: "Bearer " + token, expectedUID: "u1"},
		{name: "Unknown Token", authorization: "Bearer forged", expectedErr: ErrInvalidToken},
		{name: "Missing Header", expectedErr: errMissingAuthorizationHeader},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if test.authorization != "" {
				req.Header.Set("Authorization", test.authorization)
			}
			got, err := Authenticate(req, p)
			if test.expectedErr != nil {
				assert.ErrorIs(t, err, test.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expectedUID, got.UID)
		})
	}
}
