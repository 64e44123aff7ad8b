package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
)

var (
	// ErrAuth is the root of every authentication failure.
	ErrAuth = errors.New("auth error")
	// ErrInvalidCredentials is returned when email/password don't match an account.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuth)
	// ErrAccountExists is returned when registering an email that is taken.
	ErrAccountExists = fmt.Errorf("%w: account already exists", ErrAuth)
	// ErrWeakPassword is returned for passwords shorter than six characters.
	ErrWeakPassword = fmt.Errorf("%w: weak password", ErrAuth)
	// ErrInvalidEmail is returned for malformed addresses.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email", ErrAuth)
	// ErrInvalidToken is returned when an ID token does not verify.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuth)
)

const minPasswordLength = 6

// Principal is a signed-in account. UID is issued by the provider.
type Principal struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	IDToken      string    `json:"idToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// Provider creates accounts and holds the current session.
type Provider interface {
	Register(ctx context.Context, email, password string) (Principal, error)
	Login(ctx context.Context, email, password string) (Principal, error)
	// CurrentPrincipal reports the signed-in account, if any.
	CurrentPrincipal() (Principal, bool)
	// Restore installs a previously saved session.
	Restore(p Principal)
	SignOut()
}

// TokenVerifier checks Firebase ID tokens; *fbauth.Client implements it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Authenticate verifies the bearer ID token carried by req.
func Authenticate(req *http.Request, verifier TokenVerifier) (*fbauth.Token, error) {
	jwtToken, err := BearerTokenFromRequest(req)
	if err != nil {
		return nil, err
	}
	token, err := verifier.VerifyIDToken(req.Context(), jwtToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return token, nil
}

// session is the signed-in state shared by the providers.
type session struct {
	mu        sync.RWMutex
	principal *Principal
}

func (s *session) CurrentPrincipal() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

func (s *session) Restore(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UID == "" {
		s.principal = nil
		return
	}
	s.principal = &p
}

func (s *session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
}
