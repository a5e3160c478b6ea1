package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/option"
)

// GCSSink overwrites one object in a Cloud Storage bucket per snapshot.
type GCSSink struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSSink creates a sink. Without credentialsFile the client uses
// Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket, object, credentialsFile string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, object: object}, nil
}

// Put implements Sink. The object is replaced only when the whole snapshot
// was written; a failed write cancels the upload instead of closing it.
func (s *GCSSink) Put(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode snapshot: %w", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"sequences": fmt.Sprint(len(snap.Sequences))}
	// One request per snapshot; nothing is resumable.
	w.ChunkSize = 0

	if _, err := w.Write(body); err != nil {
		cancel()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, s.object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, s.object, err)
	}
	return nil
}

// Close implements Sink.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
