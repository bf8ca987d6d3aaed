package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is the storage collaborator the gateway uses for avatars. It
// never reads objects back; the asset id is handed to the domain services.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, contentType string) (uuid.UUID, error)
	Delete(ctx context.Context, assetID uuid.UUID) error
}

// ErrTooLarge is returned when a put exceeds the configured ceiling.
var ErrTooLarge = fmt.Errorf("storage: object exceeds size ceiling")

type HTTPStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	maxSize    int64
	httpClient *http.Client
}

func NewHTTPStore(baseURL, serviceKey, bucket string, maxSize int64) *HTTPStore {
	return &HTTPStore{
		baseURL:    baseURL + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		maxSize:    maxSize,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) Put(ctx context.Context, data []byte, contentType string) (uuid.UUID, error) {
	if int64(len(data)) > s.maxSize {
		return uuid.Nil, ErrTooLarge
	}

	assetID := uuid.New()
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return uuid.Nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	return assetID, nil
}

func (s *HTTPStore) Delete(ctx context.Context, assetID uuid.UUID) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete failed (%d)", resp.StatusCode)
	}

	return nil
}
