package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrResultNotFound is returned when a local result document is missing.
var ErrResultNotFound = errors.New("pipeline: result not found")

// ResultSource serves the local result documents returned by fetch requests.
type ResultSource interface {
	Result(ctx context.Context, name string) ([]byte, error)
	Has(name string) bool
}

// FSResults reads result documents from a file system, e.g. the embedded
// catalog or a directory.
type FSResults struct {
	FS fs.FS
}

func (r FSResults) Result(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(r.FS, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: read result %s: %w", name, err)
	}
	return data, nil
}

func (r FSResults) Has(name string) bool {
	info, err := fs.Stat(r.FS, name)
	return err == nil && !info.IsDir()
}
