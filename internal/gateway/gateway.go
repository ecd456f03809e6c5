package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/i474232898/weather-lake/internal/common"
)

// ErrGateway marks object-store connectivity or credential failures. Ordinary
// "not found" is not an error anywhere in this package; it is a first-class
// outcome of the existence check.
var ErrGateway = errors.New("object store gateway error")

// UploadOutcome is the explicit result of an upload attempt.
type UploadOutcome int

const (
	Uploaded UploadOutcome = iota
	UploadSkippedNoLocal
	UploadSkippedExists
	UploadFailed
)

func (o UploadOutcome) String() string {
	switch o {
	case Uploaded:
		return "uploaded"
	case UploadSkippedNoLocal:
		return "skipped: no local file"
	case UploadSkippedExists:
		return "skipped: already in store"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the object-store gateway. All operations are keyed by bucket + key.
type Store struct {
	client *minio.Client
}

// Config holds object-store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New connects to the object store with static credentials.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client, for test substitution.
func NewWithClient(client *minio.Client) *Store {
	return &Store{client: client}
}

// Exists reports whether bucket/key holds an object. A missing object (or
// missing bucket) is a successful false, never an error; anything else — bad
// credentials above all — propagates so callers cannot mistake a broken store
// for an empty one.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s/%s: %v", ErrGateway, bucket, key, err)
}

// List returns the object keys in bucket under prefix. An empty or missing
// bucket yields an empty result, not an error.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				log.Printf("gateway: bucket %q is empty or does not exist", bucket)
				return nil, nil
			}
			return nil, fmt.Errorf("%w: list %s: %v", ErrGateway, bucket, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Upload moves the local file at localPath into bucket/key. No-op conditions,
// in priority order: local file absent, then key already present remotely. On
// success the local file is deleted; ownership transfers to the store. On a
// failed upload the local file is preserved and the failure comes back in the
// outcome. Credential failures — on the existence check or on the put itself —
// return a non-nil error alongside UploadFailed.
func (s *Store) Upload(ctx context.Context, bucket, localPath, key string) (UploadOutcome, error) {
	if _, err := os.Stat(localPath); err != nil {
		log.Printf("gateway: local file %q absent, skipping upload", localPath)
		return UploadSkippedNoLocal, nil
	}

	exists, err := s.Exists(ctx, bucket, key)
	if err != nil {
		return UploadFailed, err
	}
	if exists {
		log.Printf("gateway: %s/%s already exists, skipping upload", bucket, key)
		return UploadSkippedExists, nil
	}

	log.Printf("gateway: uploading %s to %s/%s", localPath, bucket, key)
	if _, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	}); err != nil {
		log.Printf("gateway: upload failed, keeping local file %s: %v", localPath, err)
		// Broken credentials are not "nothing to do": they propagate so the
		// caller can tell them apart from an ordinary failed attempt.
		if IsAuthError(err) {
			return UploadFailed, fmt.Errorf("%w: put %s/%s: %v", ErrGateway, bucket, key, err)
		}
		return UploadFailed, nil
	}

	if err := os.Remove(localPath); err != nil {
		// The object landed; a leftover local file only re-triggers the
		// already-exists skip next run.
		log.Printf("gateway: could not delete local file %s: %v", localPath, err)
		return Uploaded, nil
	}
	log.Printf("gateway: upload successful, deleted local file %s", localPath)
	return Uploaded, nil
}

// Download opens bucket/key for reading. The caller owns the returned reader.
func (s *Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", ErrGateway, bucket, key, err)
	}
	return obj, nil
}

// Remove deletes bucket/key from the store.
func (s *Store) Remove(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: remove %s/%s: %v", ErrGateway, bucket, key, err)
	}
	return nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket check %s: %v", ErrGateway, bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: make bucket %s: %v", ErrGateway, bucket, err)
	}
	log.Printf("gateway: created bucket %q", bucket)
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// IsAuthError reports whether err looks like a credential problem rather than
// connectivity or a missing object.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return common.HasAny(err.Error(), "access denied", "invalid access key", "signature")
}
