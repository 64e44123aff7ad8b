// Package client assembles the conversation sync engine from configuration
// and exposes the operations available to the signed-in user.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/googleapis/gax-go/v2"
	"github.com/klipach/courier/account"
	"github.com/klipach/courier/auth"
	"github.com/klipach/courier/avatar"
	"github.com/klipach/courier/chat"
	"github.com/klipach/courier/config"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/directory"
	"github.com/klipach/courier/dispatch"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/feed"
	"github.com/klipach/courier/identity"
	"github.com/klipach/courier/log"
	"github.com/klipach/courier/objstore"
	"github.com/klipach/courier/preview"
	"github.com/klipach/courier/recent"
)

// ErrNotSignedIn is returned, without side effects, by operations that need
// a signed-in user when there is none.
var ErrNotSignedIn = errors.New("not signed in")

// Backends are the external services the client talks to.
type Backends struct {
	Store    docstore.Store
	Provider auth.Provider
	Verifier auth.TokenVerifier
	Objects  objstore.Store
	// Closers run on Close, in order, after Store is closed.
	Closers []func() error
}

type Client struct {
	Provider   auth.Provider
	Verifier   auth.TokenVerifier
	Identity   *identity.Resolver
	Directory  *directory.Directory
	Messages   *chat.Store
	Recents    *recent.Index
	Dispatcher *dispatch.Dispatcher
	Accounts   *account.Service

	store         docstore.Store
	closers       []func() error
	previewLength int
}

// NewWithBackends wires the components on top of b.
func NewWithBackends(b Backends, cfg config.Config) *Client {
	messages := chat.New(b.Store)
	recents := recent.New(b.Store)
	users := directory.New(b.Store)

	var dispatchOpts []dispatch.Option
	if cfg.MirrorRecent {
		dispatchOpts = append(dispatchOpts, dispatch.WithMirroredRecent())
	}
	if cfg.Retry.Attempts > 1 {
		dispatchOpts = append(dispatchOpts, dispatch.WithRetry(cfg.Retry.Attempts, gax.Backoff{
			Initial:    cfg.Retry.Initial,
			Max:        cfg.Retry.Max,
			Multiplier: cfg.Retry.Multiplier,
		}))
	}
	var avatarOpts []avatar.Option
	if cfg.AvatarMaxDimension > 0 {
		avatarOpts = append(avatarOpts, avatar.WithMaxDimension(cfg.AvatarMaxDimension))
	}

	return &Client{
		Provider:      b.Provider,
		Verifier:      b.Verifier,
		Identity:      identity.NewResolver(b.Provider, b.Store),
		Directory:     users,
		Messages:      messages,
		Recents:       recents,
		Dispatcher:    dispatch.New(messages, recents, users, dispatchOpts...),
		Accounts:      account.NewService(b.Provider, b.Objects, users, avatarOpts...),
		store:         b.Store,
		closers:       b.Closers,
		previewLength: cfg.PreviewLength,
	}
}

// NewMemory builds a client on in-process backends.
func NewMemory(cfg config.Config) *Client {
	provider := auth.NewMemoryProvider()
	return NewWithBackends(Backends{
		Store:    docstore.NewMemory(),
		Provider: provider,
		Verifier: provider,
		Objects:  objstore.NewMemory(),
	}, cfg)
}

// Send delivers text from the signed-in user to toID.
func (c *Client) Send(ctx context.Context, toID, text string) error {
	uid, ok := c.Identity.CurrentUser()
	if !ok {
		log.LoggerFromContext(ctx).Warn("send ignored, not signed in")
		return ErrNotSignedIn
	}
	return c.Dispatcher.Send(ctx, uid, toID, text)
}

// OpenConversation subscribes to the signed-in user's conversation with peerID.
func (c *Client) OpenConversation(ctx context.Context, peerID string, onChange func([]contract.Message)) (*feed.Subscription, error) {
	uid, ok := c.Identity.CurrentUser()
	if !ok {
		return nil, ErrNotSignedIn
	}
	return c.Messages.Subscribe(ctx, uid, peerID, onChange)
}

// WatchRecent subscribes to the signed-in user's recent conversations.
func (c *Client) WatchRecent(ctx context.Context, onChange func(recent.Update)) (*feed.Subscription, error) {
	uid, ok := c.Identity.CurrentUser()
	if !ok {
		return nil, ErrNotSignedIn
	}
	return c.Recents.Subscribe(ctx, uid, onChange)
}

// Contacts lists every other registered user.
func (c *Client) Contacts(ctx context.Context) ([]contract.User, error) {
	uid, ok := c.Identity.CurrentUser()
	if !ok {
		return []contract.User{}, ErrNotSignedIn
	}
	return c.Directory.ListContacts(ctx, uid)
}

// Preview renders an entry's text for a contact list row.
func (c *Client) Preview(entry contract.RecentMessage) string {
	return preview.Plain(entry.Text, c.previewLength)
}

func (c *Client) Close() error {
	err := c.store.Close()
	for _, closeFn := range c.closers {
		err = errors.Join(err, closeFn())
	}
	return err
}

// NewLogger builds the process logger: Cloud Logging JSON on stdout, or the
// Cloud Logging API when remote logging is enabled. The close func flushes
// remote entries.
func NewLogger(ctx context.Context, cfg config.Config) (*slog.Logger, func() error, error) {
	level := log.ParseLevel(cfg.LogLevel)
	if !cfg.RemoteLogging {
		return slog.New(log.NewCloudLoggingHandler(level)), func() error { return nil }, nil
	}
	projectID, err := cfg.ResolveProjectID(ctx)
	if err != nil {
		return nil, nil, err
	}
	handler, closeFn, err := log.NewRemoteClient(ctx, projectID, cfg.LogID, level, clientOptions(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("remote logging: %w", err)
	}
	return slog.New(handler), closeFn, nil
}
