package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/chatreplay/chatreplay/internal/errors"
)

// FetchResult describes where a fetched file ended up.
type FetchResult struct {
	LocalPath  string
	ObjectPath string
	Cached     bool
	Duration   time.Duration
}

// Fetch makes the first of names that exists under prefix available in
// dir. A file already present in dir is reused without contacting the
// store. When no name exists the not-found error lists the objects found
// under prefix. Downloads go to a temporary file that is renamed into
// place, so an interrupted fetch never leaves a partial dataset behind.
func Fetch(ctx context.Context, store ObjectStorage, prefix, dir string, names ...string) (*FetchResult, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("fetch: no object names given")
	}
	for _, name := range names {
		local := filepath.Join(dir, name)
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return &FetchResult{LocalPath: local, Cached: true}, nil
		}
	}

	for _, name := range names {
		objectPath := path.Join(prefix, name)
		ok, err := store.Exists(ctx, objectPath)
		if err != nil {
			return nil, downloadFailed(objectPath, err)
		}
		if !ok {
			continue
		}

		start := time.Now()
		local := filepath.Join(dir, name)
		tmp := fmt.Sprintf("%s.partial-%d", local, start.UnixNano())
		log.Printf("Fetching %s into %s", objectPath, dir)

		if err := store.Download(ctx, objectPath, tmp); err != nil {
			os.Remove(tmp)
			return nil, err
		}
		if err := os.Rename(tmp, local); err != nil {
			os.Remove(tmp)
			return nil, downloadFailed(objectPath, err)
		}
		return &FetchResult{
			LocalPath:  local,
			ObjectPath: objectPath,
			Duration:   time.Since(start),
		}, nil
	}

	// Report what the prefix does hold, on a best-effort basis.
	missing := errors.NewStorageError(errors.CodeObjectNotFound, path.Join(prefix, names[0]), nil)
	if objects, err := store.ListObjects(ctx, prefix); err == nil {
		missing = missing.WithDetails(map[string]interface{}{"available": objects})
	}
	return nil, missing
}
