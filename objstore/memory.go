package objstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klipach/courier/docstore"
)

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
	token       string
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	objects map[string]Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Put(_ context.Context, path string, data []byte, contentType string) error {
	if err := validPath(path); err != nil {
		return err
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = Object{Data: stored, ContentType: contentType, token: uuid.NewString()}
	return nil
}

func (m *Memory) DownloadURL(_ context.Context, path string) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	return downloadURL("memory://objects", "local", path, obj.token), nil
}

// Object returns a stored object.
func (m *Memory) Object(path string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	return obj, ok
}
