package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"
)

const manifestName = "_manifest.json"

// Manifest is the single pointer object of a BlobStore. It names the parquet
// object currently holding each relation.
type Manifest struct {
	Tables        map[string]TableInfo `json:"tables"`
	Retired       []string             `json:"retired,omitempty"`
	SchemaVersion string               `json:"schema_version"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// BlobStore writes each relation as a parquet object and commits a Replace by
// overwriting the manifest. Object keys are content addressed, so an
// unchanged relation maps to the same key on every run.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
	mu     sync.Mutex
}

// OpenBlobStore opens a bucket URL understood by gocloud.dev.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	log.Printf("[warehouse] using blob store %s prefix=%q", bucketURL, prefix)
	return NewBlobStore(bucket, prefix), nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

func (s *BlobStore) manifestKey() string {
	return s.prefix + manifestName
}

func (s *BlobStore) objectKey(name, checksum string) string {
	return fmt.Sprintf("%stables/%s/%s.parquet", s.prefix, name, strings.TrimPrefix(checksum, "sha256:"))
}

// ReadManifest returns the current manifest, or an empty one if none exists.
func (s *BlobStore) ReadManifest(ctx context.Context) (*Manifest, error) {
	data, err := s.bucket.ReadAll(ctx, s.manifestKey())
	if gcerrors.Code(err) == gcerrors.NotFound {
		return &Manifest{Tables: make(map[string]TableInfo), SchemaVersion: SchemaVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Tables == nil {
		m.Tables = make(map[string]TableInfo)
	}
	return &m, nil
}

// Replace writes the new objects, then swaps the manifest. Objects
// superseded by this Replace are only retired; they are removed by the next
// Replace, so a reader holding the previous manifest can still open them.
func (s *BlobStore) Replace(ctx context.Context, tables ...Table) error {
	if err := checkUnique(tables); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ReadManifest(ctx)
	if err != nil {
		return err
	}

	next := &Manifest{
		Tables:        make(map[string]TableInfo, len(current.Tables)+len(tables)),
		SchemaVersion: SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
	}
	for name, info := range current.Tables {
		next.Tables[name] = info
	}

	for _, t := range tables {
		data, err := EncodeParquet(t)
		if err != nil {
			return fmt.Errorf("encode %s: %w", t.Name(), err)
		}
		checksum := ComputeChecksum(data)
		key := s.objectKey(t.Name(), checksum)

		if err := s.writeObject(ctx, key, data, "application/vnd.apache.parquet"); err != nil {
			return err
		}
		next.Tables[t.Name()] = TableInfo{
			File:     key,
			Checksum: checksum,
			RowCount: int64(t.Len()),
			ByteSize: int64(len(data)),
		}
	}

	next.Retired = retired(current, next)

	manifest, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.writeObject(ctx, s.manifestKey(), manifest, "application/json"); err != nil {
		return err
	}

	live := make(map[string]bool, len(next.Tables)+len(next.Retired))
	for _, info := range next.Tables {
		live[info.File] = true
	}
	for _, key := range next.Retired {
		live[key] = true
	}
	for _, key := range current.Retired {
		if live[key] {
			continue
		}
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			log.Printf("[warehouse] warning: failed to remove retired %s: %v", key, err)
		}
	}
	return nil
}

// retired lists the objects of current that next no longer references.
func retired(current, next *Manifest) []string {
	inUse := make(map[string]bool, len(next.Tables))
	for _, info := range next.Tables {
		inUse[info.File] = true
	}
	var keys []string
	for _, info := range current.Tables {
		if !inUse[info.File] {
			keys = append(keys, info.File)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *BlobStore) writeObject(ctx context.Context, key string, data []byte, contentType string) error {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// fillAttempts bounds how often Fill re-reads the manifest when the object it
// names was removed by concurrent Replaces.
const fillAttempts = 3

// Fill reads the relation through the manifest and verifies its checksum.
func (s *BlobStore) Fill(ctx context.Context, dst Table) error {
	var (
		info TableInfo
		data []byte
	)
	for attempt := 1; ; attempt++ {
		m, err := s.ReadManifest(ctx)
		if err != nil {
			return err
		}

		var ok bool
		info, ok = m.Tables[dst.Name()]
		if !ok {
			return fmt.Errorf("%s: %w", dst.Name(), ErrRelationNotFound)
		}

		data, err = s.bucket.ReadAll(ctx, info.File)
		if err == nil {
			break
		}
		if gcerrors.Code(err) != gcerrors.NotFound || attempt == fillAttempts {
			return fmt.Errorf("read %s: %w", info.File, err)
		}
	}
	if !VerifyChecksum(data, info.Checksum) {
		return fmt.Errorf("relation %s: %w", dst.Name(), ErrChecksumMismatch)
	}
	return dst.decodeParquet(data)
}

// ErrChecksumMismatch is returned when a stored object no longer matches the
// checksum recorded in the manifest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Close releases the bucket.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
