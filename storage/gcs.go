package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const gcsPrefix = "kv-"

// GCS stores each key as a Cloud Storage object named kv-<key>.json.
type GCS struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
}

// NewGCS returns a Cloud Storage backend. The caller owns the client until Close.
func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCS {
	return &GCS{client: client, bucket: bucket, logger: logger}
}

func objectName(key string) string {
	return gcsPrefix + key + ".json"
}

func keyName(object string) (string, bool) {
	key, ok := strings.CutPrefix(object, gcsPrefix)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(key, ".json")
}

// do runs fn against the object for key, retrying transient failures.
// A missing object surfaces as ErrNotFound without further attempts.
func (g *GCS) do(ctx context.Context, op, key string, fn func(obj *storage.ObjectHandle) error) error {
	obj := g.client.Bucket(g.bucket).Object(objectName(key))
	missing := false
	err := retry.Do(
		func() error {
			err := fn(obj)
			if errors.Is(err, storage.ErrObjectNotExist) {
				missing = true
				return retry.Unrecoverable(ErrNotFound)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying bucket operation", "op", op, "key", key, "attempt", n+1, "error", err)
		}),
	)
	switch {
	case missing:
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("%s %s in bucket %s: %w", op, key, g.bucket, err)
	}
	return nil
}

// Get reads the object for key.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := g.do(ctx, "get", key, func(obj *storage.ObjectHandle) error {
		r, err := obj.NewReader(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				g.logger.Warn("Failed to close object reader", "key", key, "error", closeErr)
			}
		}()
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put replaces the object for key. Values are small JSON documents, so the
// upload goes out in a single request.
func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	err := g.do(ctx, "put", key, func(obj *storage.ObjectHandle) error {
		w := obj.NewWriter(ctx)
		w.ContentType = "application/json"
		w.ChunkSize = 0
		w.Metadata = map[string]string{"key": key}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return err
	}
	g.logger.Debug("Stored value", "bucket", g.bucket, "key", key, "bytes", len(data))
	return nil
}

// Delete removes the object for key. Deleting a missing key succeeds.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.do(ctx, "delete", key, func(obj *storage.ObjectHandle) error {
		return obj.Delete(ctx)
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Keys lists stored keys in sorted order.
func (g *GCS) Keys(ctx context.Context) ([]string, error) {
	q := &storage.Query{Prefix: gcsPrefix}
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, fmt.Errorf("select object attributes: %w", err)
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, q)

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", g.bucket, err)
		}
		if key, ok := keyName(attrs.Name); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the underlying Cloud Storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
