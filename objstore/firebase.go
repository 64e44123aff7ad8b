package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/klipach/courier/docstore"
	"google.golang.org/api/googleapi"
)

const (
	downloadTokensKey = "firebaseStorageDownloadTokens"
	downloadHost      = "https://firebasestorage.googleapis.com"
)

// Bucket is a Cloud Storage bucket served through Firebase download URLs.
type Bucket struct {
	handle *storage.BucketHandle
	name   string
	host   string
}

// NewBucket wraps a handle obtained from the Firebase or Cloud Storage client.
func NewBucket(handle *storage.BucketHandle, name string) *Bucket {
	return &Bucket{handle: handle, name: name, host: downloadHost}
}

// Put uploads data and attaches a fresh download token.
func (b *Bucket) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := validPath(path); err != nil {
		return err
	}
	w := b.handle.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{downloadTokensKey: uuid.NewString()}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return classify(err)
	}
	if err := w.Close(); err != nil {
		return classify(err)
	}
	return nil
}

// DownloadURL builds the tokenised URL, minting a token for objects uploaded
// without one.
func (b *Bucket) DownloadURL(ctx context.Context, path string) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	obj := b.handle.Object(path)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", classify(err)
	}
	token := firstToken(attrs.Metadata[downloadTokensKey])
	if token == "" {
		token = uuid.NewString()
		metadata := map[string]string{downloadTokensKey: token}
		if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: metadata}); err != nil {
			return "", classify(err)
		}
	}
	return downloadURL(b.host, b.name, path, token), nil
}

func downloadURL(host, bucket, path, token string) string {
	return fmt.Sprintf("%s/v0/b/%s/o/%s?alt=media&token=%s",
		host, bucket, url.PathEscape(path), url.QueryEscape(token))
}

// firstToken picks one token out of the comma separated list Firebase keeps.
func firstToken(tokens string) string {
	token, _, _ := strings.Cut(tokens, ",")
	return token
}

func classify(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("%w: %v", docstore.ErrPermission, err)
		case 404:
			return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
		case 429, 500, 502, 503, 504:
			return fmt.Errorf("%w: %v", docstore.ErrNetwork, err)
		}
	}
	return err
}
