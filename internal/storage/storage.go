// Package storage provides read access to the object stores the dataset can
// be fetched from.
package storage

import (
	"context"

	"github.com/chatreplay/chatreplay/internal/errors"
)

// Common errors for storage operations. They match by category and code, so
// errors.Is works on any error produced by this package.
var (
	ErrObjectNotFound = errors.New(errors.ErrCategoryStorage, errors.CodeObjectNotFound, "object not found")
	ErrDownloadFailed = errors.New(errors.ErrCategoryStorage, errors.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts object storage reads.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Download copies the object at objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func notFound(objectPath string) error {
	return errors.NewStorageError(errors.CodeObjectNotFound, objectPath, nil)
}

func downloadFailed(objectPath string, cause error) error {
	return errors.NewStorageError(errors.CodeDownloadFailed, objectPath, cause)
}
