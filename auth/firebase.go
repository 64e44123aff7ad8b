package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/klipach/courier/docstore"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com"

// AdminClient is the part of the Firebase Admin auth client the provider uses.
type AdminClient interface {
	TokenVerifier
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	CustomToken(ctx context.Context, uid string) (string, error)
}

// FirebaseProvider registers accounts through the Admin SDK and signs in with
// email and password through the Identity Toolkit REST API, the same calls
// the mobile SDKs make.
type FirebaseProvider struct {
	session
	admin      AdminClient
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

type FirebaseOption func(*FirebaseProvider)

// WithEndpoint points REST calls at another host, e.g. the auth emulator.
func WithEndpoint(endpoint string) FirebaseOption {
	return func(p *FirebaseProvider) { p.endpoint = strings.TrimSuffix(endpoint, "/") }
}

func WithHTTPClient(c *http.Client) FirebaseOption {
	return func(p *FirebaseProvider) { p.httpClient = c }
}

func NewFirebaseProvider(admin AdminClient, apiKey string, opts ...FirebaseOption) *FirebaseProvider {
	p := &FirebaseProvider{
		admin:      admin,
		apiKey:     apiKey,
		endpoint:   identityToolkitURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FirebaseProvider) Register(ctx context.Context, email, password string) (Principal, error) {
	params := (&fbauth.UserToCreate{}).Email(email).Password(password)
	if _, err := p.admin.CreateUser(ctx, params); err != nil {
		if fbauth.IsEmailAlreadyExists(err) {
			return Principal{}, ErrAccountExists
		}
		return Principal{}, fmt.Errorf("create user: %w", err)
	}
	return p.Login(ctx, email, password)
}

func (p *FirebaseProvider) Login(ctx context.Context, email, password string) (Principal, error) {
	resp, err := p.signIn(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return Principal{}, err
	}
	principal, err := p.establish(ctx, resp)
	if err != nil {
		return Principal{}, err
	}
	p.Restore(principal)
	return principal, nil
}

// ExchangeCustomToken signs in with an Admin SDK custom token and returns the
// resulting principal without touching the current session.
func (p *FirebaseProvider) ExchangeCustomToken(ctx context.Context, uid string) (Principal, error) {
	customToken, err := p.admin.CustomToken(ctx, uid)
	if err != nil {
		return Principal{}, fmt.Errorf("custom token: %w", err)
	}
	resp, err := p.signIn(ctx, "accounts:signInWithCustomToken", map[string]any{
		"token":             customToken,
		"returnSecureToken": true,
	})
	if err != nil {
		return Principal{}, err
	}
	return p.establish(ctx, resp)
}

func (p *FirebaseProvider) VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error) {
	return p.admin.VerifyIDToken(ctx, idToken)
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// establish verifies the freshly issued ID token so the session carries a
// uid the Admin SDK agrees with.
func (p *FirebaseProvider) establish(ctx context.Context, resp *signInResponse) (Principal, error) {
	token, err := p.admin.VerifyIDToken(ctx, resp.IDToken)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	principal := Principal{
		UID:          token.UID,
		Email:        resp.Email,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}
	if secs, err := strconv.Atoi(resp.ExpiresIn); err == nil {
		principal.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return principal, nil
}

func (p *FirebaseProvider) signIn(ctx context.Context, method string, payload map[string]any) (*signInResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/%s?key=%s", p.endpoint, method, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("%w: %v", docstore.ErrNetwork, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return nil, restError(errResp.Error.Message)
	}

	var signInResp signInResponse
	if err := json.Unmarshal(body, &signInResp); err != nil {
		return nil, fmt.Errorf("decode sign-in response: %w", err)
	}
	return &signInResp, nil
}

// restError maps Identity Toolkit error codes. Messages may carry a suffix,
// e.g. "WEAK_PASSWORD : Password should be at least 6 characters".
func restError(message string) error {
	code, _, _ := strings.Cut(message, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return ErrInvalidCredentials
	case "EMAIL_EXISTS":
		return ErrAccountExists
	case "WEAK_PASSWORD":
		return ErrWeakPassword
	case "INVALID_EMAIL":
		return ErrInvalidEmail
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%w: %s", docstore.ErrNetwork, message)
	default:
		return fmt.Errorf("%w: %s", ErrAuth, message)
	}
}
