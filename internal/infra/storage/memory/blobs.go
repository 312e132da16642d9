package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// BlobStore keeps attachment bytes in memory and hands out URLs under
// BaseURL. Used in dev mode and tests.
type BlobStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]blob
}

type blob struct {
	data        []byte
	contentType string
}

func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{BaseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]blob)}
}

func (s *BlobStore) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	if reader == nil {
		return "", errors.New("memory: reader is required")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("memory: object key is required")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("memory: read object: %w", err)
	}
	s.mu.Lock()
	s.objects[key] = blob{data: data, contentType: contentType}
	s.mu.Unlock()
	return s.BaseURL + "/" + key, nil
}

// Object returns a stored blob and its content type.
func (s *BlobStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[strings.Trim(key, "/")]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}
