package auth

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost keeps hashing cheap enough for tests.
const bcryptCost = bcrypt.MinCost

// MemoryProvider is an in-process Provider and TokenVerifier.
type MemoryProvider struct {
	session

	mu       sync.Mutex
	accounts map[string]memoryAccount
	tokens   map[string]string
}

type memoryAccount struct {
	uid          string
	email        string
	passwordHash []byte
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts: make(map[string]memoryAccount),
		tokens:   make(map[string]string),
	}
}

func (p *MemoryProvider) Register(ctx context.Context, email, password string) (Principal, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return Principal{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return Principal{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Principal{}, err
	}

	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return Principal{}, ErrAccountExists
	}
	p.accounts[email] = memoryAccount{uid: uuid.NewString(), email: email, passwordHash: hash}
	p.mu.Unlock()

	return p.Login(ctx, email, password)
}

func (p *MemoryProvider) Login(_ context.Context, email, password string) (Principal, error) {
	email = normalizeEmail(email)
	p.mu.Lock()
	account, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}

	principal := Principal{
		UID:          account.uid,
		Email:        account.email,
		IDToken:      p.IssueToken(account.uid),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	p.Restore(principal)
	return principal, nil
}

// IssueToken mints an ID token for uid that VerifyIDToken accepts.
func (p *MemoryProvider) IssueToken(uid string) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.tokens[token] = uid
	p.mu.Unlock()
	return token
}

func (p *MemoryProvider) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	p.mu.Lock()
	uid, ok := p.tokens[idToken]
	p.mu.Unlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	return &fbauth.Token{UID: uid, Subject: uid}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
