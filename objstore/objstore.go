// Package objstore stores binary objects, such as profile images, and hands
// out download URLs for them.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for empty or absolute object paths.
var ErrInvalidPath = errors.New("invalid object path")

type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// DownloadURL returns a URL that serves the object without credentials.
	DownloadURL(ctx context.Context, path string) (string, error)
}

func validPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}
