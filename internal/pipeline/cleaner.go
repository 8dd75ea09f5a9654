package pipeline

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

// LocalCleaner removes run-local artifacts. Paths that are already gone
// are not an error.
type LocalCleaner struct{}

func NewLocalCleaner() *LocalCleaner {
	return &LocalCleaner{}
}

// Clean removes every path (directories recursively) and reports all
// failures together.
func (c *LocalCleaner) Clean(paths ...string) error {
	var failed []string
	var errs []error

	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			failed = append(failed, p)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}

	if len(errs) > 0 {
		return errors.NewCleanupError(failed, stderrors.Join(errs...))
	}
	return nil
}
