package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

// MongoDumpExporter runs mongodump for a single collection and reads the
// primary keys back out of the dump file.
type MongoDumpExporter struct {
	binary string
	logger *slog.Logger
}

func NewMongoDumpExporter(binary string, logger *slog.Logger) *MongoDumpExporter {
	if binary == "" {
		binary = "mongodump"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoDumpExporter{binary: binary, logger: logger}
}

// Export blocks until mongodump exits. The output directory is left in
// place on failure; the caller owns its removal.
func (e *MongoDumpExporter) Export(ctx context.Context, target Target, outputDir string) (*Snapshot, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.NewExportError(target.DatabaseName, target.CollectionName, fmt.Errorf("failed to create output directory: %w", err))
	}

	args := e.buildArgs(target, outputDir)
	e.logger.Debug("Running dump utility", "binary", e.binary, "out", outputDir)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, errors.NewExportError(target.DatabaseName, target.CollectionName,
			fmt.Errorf("mongodump failed: %w: %s", err, strings.TrimSpace(string(output))))
	}

	dumpFile := DumpFilePath(outputDir, target.DatabaseName, target.CollectionName)
	ids, err := ReadDocumentIDsFile(dumpFile)
	if err != nil {
		return nil, errors.NewExportError(target.DatabaseName, target.CollectionName, err)
	}

	return &Snapshot{
		Dir:      outputDir,
		DumpFile: dumpFile,
		IDs:      ids,
	}, nil
}

func (e *MongoDumpExporter) buildArgs(target Target, outputDir string) []string {
	return []string{
		"--uri=" + target.URI,
		"--db=" + target.DatabaseName,
		"--collection=" + target.CollectionName,
		"--out=" + outputDir,
	}
}
