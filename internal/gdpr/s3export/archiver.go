// Package s3export archives GDPR data-portability exports to cold object
// storage, on top of the teacher's internal/objectstore ObjectStore
// abstraction (previously unwired). It is deliberately storage-agnostic:
// the same Archiver works against S3, an S3-compatible service, or the
// in-memory store used in tests.
package s3export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"osqr/internal/objectstore"
)

// Archiver writes exportUserData payloads to an ObjectStore, one object
// per export, keyed by user and export time.
type Archiver struct {
	store  objectstore.ObjectStore
	prefix string
	now    func() time.Time
}

// New builds an Archiver over store. prefix namespaces every key this
// archiver writes (e.g. "gdpr-exports"); empty means no namespacing.
func New(store objectstore.ObjectStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Archive stores data (a serialized UserExport) under a timestamped key
// and returns the key it was written to. Callers treat a failure here as
// non-fatal to the export request itself: the cold-storage copy is a
// durability aid, not the primary response path.
func (a *Archiver) Archive(ctx context.Context, userID string, data []byte) (string, error) {
	key := a.key(userID)
	_, err := a.store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"userId": userID},
	})
	if err != nil {
		return "", fmt.Errorf("s3export: archive user %s: %w", userID, err)
	}
	return key, nil
}

// ArchiveAsync runs Archive in a goroutine against a detached context (so
// the archive write outlives a request-scoped ctx the caller cancels on
// return), logging failure instead of propagating it. For callers that
// must not block the GDPR export response on cold-storage latency.
func (a *Archiver) ArchiveAsync(_ context.Context, userID string, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := a.Archive(ctx, userID, data); err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("gdpr export archive failed")
		}
	}()
}

func (a *Archiver) key(userID string) string {
	stamp := a.now().Format("20060102T150405.000000000Z")
	if a.prefix == "" {
		return fmt.Sprintf("%s/%s.json", userID, stamp)
	}
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, userID, stamp)
}
