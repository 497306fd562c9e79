package app

import (
	"context"
	"fmt"
	"time"

	"bundlechat/pkg/storage"
)

const uploadSlotExpiry = 10 * time.Minute

// UploadSlot is a short-lived presigned slot for one attachment. The client
// PUTs the bytes to URL, then sends a message carrying Key as its storage
// key.
type UploadSlot struct {
	Key string
	URL string
}

// GenerateUploadSlot mints a presigned upload slot for the caller.
func (a *App) GenerateUploadSlot(ctx context.Context, subject string) (UploadSlot, error) {
	if _, err := a.caller(subject); err != nil {
		return UploadSlot{}, err
	}
	if a.objects == nil {
		return UploadSlot{}, ErrUploadsDisabled
	}
	key := storage.NewObjectKey()
	url, err := a.objects.PresignPut(ctx, key, uploadSlotExpiry)
	if err != nil {
		return UploadSlot{}, fmt.Errorf("presign upload: %w", err)
	}
	return UploadSlot{Key: key, URL: url}, nil
}
