// Package archive stores bulk engine artifacts outside the database:
// deployment resources and dead-letter job dumps. Buckets are addressed
// by gocloud URL, supporting S3, GCS, Azure Blob Storage, local files,
// and in-memory stores
package archive

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/kode4food/paisley/pkg/api"
)

// Store archives engine artifacts in a blob bucket
type Store struct {
	bucket *blob.Bucket
	prefix string
}

var ErrArtifactNotFound = errors.New("artifact not found")

// Open connects to the bucket at the given gocloud URL
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &Store{bucket: bucket, prefix: prefix}, nil
}

// PutResource stores a named deployment resource
func (s *Store) PutResource(
	ctx context.Context, dep api.DeploymentID, name string, data []byte,
) error {
	return s.bucket.WriteAll(ctx, s.resourceKey(dep, name), data, nil)
}

// GetResource retrieves a named deployment resource
func (s *Store) GetResource(
	ctx context.Context, dep api.DeploymentID, name string,
) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.resourceKey(dep, name))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound,
				dep, name)
		}
		return nil, err
	}
	return data, nil
}

// DeleteResource removes a named deployment resource
func (s *Store) DeleteResource(
	ctx context.Context, dep api.DeploymentID, name string,
) error {
	err := s.bucket.Delete(ctx, s.resourceKey(dep, name))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// PutDeadLetter archives the final state of a dead-lettered job
func (s *Store) PutDeadLetter(
	ctx context.Context, id api.JobID, data []byte,
) error {
	return s.bucket.WriteAll(ctx, s.deadLetterKey(id), data, nil)
}

// GetDeadLetter retrieves an archived dead-letter dump
func (s *Store) GetDeadLetter(
	ctx context.Context, id api.JobID,
) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.deadLetterKey(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
		}
		return nil, err
	}
	return data, nil
}

// Close releases the bucket
func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) resourceKey(dep api.DeploymentID, name string) string {
	return fmt.Sprintf("%sdeployments/%s/%s", s.prefix, dep, name)
}

func (s *Store) deadLetterKey(id api.JobID) string {
	return fmt.Sprintf("%sdeadletter/%s.json", s.prefix, id)
}
