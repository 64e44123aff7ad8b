// Package account creates accounts together with their public user record.
package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klipach/courier/auth"
	"github.com/klipach/courier/avatar"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/log"
	"github.com/klipach/courier/objstore"
)

// Users stores user records.
type Users interface {
	Put(ctx context.Context, user contract.User) error
}

type Service struct {
	provider auth.Provider
	objects  objstore.Store
	users    Users
	avatar   []avatar.Option
}

func NewService(provider auth.Provider, objects objstore.Store, users Users, avatarOpts ...avatar.Option) *Service {
	return &Service{provider: provider, objects: objects, users: users, avatar: avatarOpts}
}

// Register creates the account, uploads the profile image (if any) under the
// new user's id and writes users/{uid}. The account stays signed in even when
// a later step fails; the returned error says which one.
func (s *Service) Register(ctx context.Context, email, password string, image []byte) (contract.User, error) {
	logger := log.LoggerFromContext(ctx)

	var normalized []byte
	if len(image) > 0 {
		var err error
		if normalized, err = avatar.Normalize(image, s.avatar...); err != nil {
			return contract.User{}, err
		}
	}

	principal, err := s.provider.Register(ctx, email, password)
	if err != nil {
		return contract.User{}, err
	}
	logger = logger.With(slog.String(log.UserIDLogField, principal.UID))
	user := contract.User{UID: principal.UID, Email: principal.Email}
	if user.Email == "" {
		user.Email = email
	}

	if normalized != nil {
		if err := s.objects.Put(ctx, principal.UID, normalized, avatar.ContentType); err != nil {
			logger.Error("failed to upload profile image", log.Err(err))
			return user, fmt.Errorf("upload profile image: %w", err)
		}
		url, err := s.objects.DownloadURL(ctx, principal.UID)
		if err != nil {
			logger.Error("failed to get profile image url", log.Err(err))
			return user, fmt.Errorf("profile image url: %w", err)
		}
		user.ProfileImageURL = url
	}

	if err := s.users.Put(ctx, user); err != nil {
		logger.Error("failed to store user record", log.Err(err))
		return user, fmt.Errorf("store user record: %w", err)
	}
	logger.Info("account registered")
	return user, nil
}

// Login signs in an existing account.
func (s *Service) Login(ctx context.Context, email, password string) (auth.Principal, error) {
	principal, err := s.provider.Login(ctx, email, password)
	if err != nil {
		return auth.Principal{}, err
	}
	log.LoggerFromContext(ctx).Info("signed in", slog.String(log.UserIDLogField, principal.UID))
	return principal, nil
}

func (s *Service) Logout() {
	s.provider.SignOut()
}
