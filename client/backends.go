package client

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/klipach/courier/auth"
	"github.com/klipach/courier/config"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/docstore/fsstore"
	"github.com/klipach/courier/docstore/pgstore"
	"github.com/klipach/courier/objstore"
	"google.golang.org/api/option"
)

// New connects to the backends named by cfg. Firebase Authentication and
// Storage are used whenever an API key is configured; otherwise accounts and
// objects live in memory.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	b := Backends{}
	var app *firebase.App
	firebaseApp := func() (*firebase.App, error) {
		if app != nil {
			return app, nil
		}
		projectID, err := cfg.ResolveProjectID(ctx)
		if err != nil {
			return nil, err
		}
		fbConfig := &firebase.Config{ProjectID: projectID, StorageBucket: cfg.StorageBucket}
		app, err = firebase.NewApp(ctx, fbConfig, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("error initializing app: %w", err)
		}
		return app, nil
	}

	switch cfg.Backend {
	case config.BackendFirestore:
		app, err := firebaseApp()
		if err != nil {
			return nil, err
		}
		fsClient, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting Firestore client: %w", err)
		}
		b.Store = fsstore.NewFromClient(fsClient)
	case config.BackendPostgres:
		store, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.Store = store
	case config.BackendMemory:
		b.Store = docstore.NewMemory()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.APIKey == "" {
		provider := auth.NewMemoryProvider()
		b.Provider, b.Verifier = provider, provider
		b.Objects = objstore.NewMemory()
		return NewWithBackends(b, cfg), nil
	}

	app, err := firebaseApp()
	if err != nil {
		b.Store.Close()
		return nil, err
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		b.Store.Close()
		return nil, fmt.Errorf("error getting Auth client: %w", err)
	}
	var authOpts []auth.FirebaseOption
	if cfg.AuthEndpoint != "" {
		authOpts = append(authOpts, auth.WithEndpoint(cfg.AuthEndpoint))
	}
	provider := auth.NewFirebaseProvider(authClient, cfg.APIKey, authOpts...)
	b.Provider, b.Verifier = provider, provider

	storageClient, err := app.Storage(ctx)
	if err != nil {
		b.Store.Close()
		return nil, fmt.Errorf("error getting Storage client: %w", err)
	}
	bucket, err := storageClient.DefaultBucket()
	if err != nil {
		b.Store.Close()
		return nil, fmt.Errorf("error getting default bucket: %w", err)
	}
	b.Objects = objstore.NewBucket(bucket, cfg.StorageBucket)
	return NewWithBackends(b, cfg), nil
}

func clientOptions(cfg config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}
