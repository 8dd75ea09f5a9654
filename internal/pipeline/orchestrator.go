package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/jorgepascosoto/collection-archiver/internal/backup"
	"github.com/jorgepascosoto/collection-archiver/internal/compress"
	"github.com/jorgepascosoto/collection-archiver/internal/config"
	"github.com/jorgepascosoto/collection-archiver/internal/errors"
	"github.com/jorgepascosoto/collection-archiver/internal/purge"
	"github.com/jorgepascosoto/collection-archiver/internal/storage"
)

// TimestampLayout is ISO-8601 in UTC with second resolution.
const TimestampLayout = "2006-01-02T15:04:05Z"

type Exporter interface {
	Export(ctx context.Context, target backup.Target, outputDir string) (*backup.Snapshot, error)
}

type Archiver interface {
	Archive(ctx context.Context, src, dst string) (int64, error)
}

type Uploader interface {
	Upload(ctx context.Context, dest storage.Destination, localPath, key string) (*storage.Receipt, error)
}

type Purger interface {
	Purge(ctx context.Context, target backup.Target, ids []backup.DocumentID) (*purge.Result, error)
}

type Cleaner interface {
	Clean(paths ...string) error
}

// Components are the collaborators a run is sequenced over.
type Components struct {
	Exporter Exporter
	Archiver Archiver
	Uploader Uploader
	Purger   Purger
	Cleaner  Cleaner
	Clock    clock.Clock
	Logger   *slog.Logger
}

type stateHandler func(ctx context.Context, r *run) (State, error)

// Orchestrator runs export, archive, upload, purge and cleanup in that
// order. Purging is only reachable from a confirmed upload, and at most one
// run may hold a given working directory or collection at a time.
type Orchestrator struct {
	exporter Exporter
	archiver Archiver
	uploader Uploader
	purger   Purger
	cleaner  Cleaner
	clock    clock.Clock
	logger   *slog.Logger

	handlers map[State]stateHandler

	mu     sync.Mutex
	active map[string]struct{}

	// lastKeys holds the most recent archive key issued per collection.
	lastKeys map[string]string
}

func NewOrchestrator(c Components) (*Orchestrator, error) {
	switch {
	case c.Exporter == nil:
		return nil, fmt.Errorf("exporter is required")
	case c.Archiver == nil:
		return nil, fmt.Errorf("archiver is required")
	case c.Uploader == nil:
		return nil, fmt.Errorf("uploader is required")
	case c.Purger == nil:
		return nil, fmt.Errorf("purger is required")
	}
	if c.Cleaner == nil {
		c.Cleaner = NewLocalCleaner()
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	o := &Orchestrator{
		exporter: c.Exporter,
		archiver: c.Archiver,
		uploader: c.Uploader,
		purger:   c.Purger,
		cleaner:  c.Cleaner,
		clock:    c.Clock,
		logger:   c.Logger,
		active:   make(map[string]struct{}),
		lastKeys: make(map[string]string),
	}
	o.handlers = map[State]stateHandler{
		StateExporting:  o.export,
		StateArchiving:  o.archive,
		StateUploading:  o.upload,
		StatePurging:    o.purge,
		StateCleaningUp: o.cleanUp,
	}
	return o, nil
}

// run carries the state of one pipeline invocation between handlers.
type run struct {
	cfg      *config.BackupConfig
	logger   *slog.Logger
	outcome  *Outcome
	snapshot *backup.Snapshot
	receipt  *storage.Receipt
}

// RunOnce executes the pipeline for cfg. It never returns an error; every
// failure is reported through the Outcome so a scheduler can keep going.
func (o *Orchestrator) RunOnce(ctx context.Context, cfg *config.BackupConfig) *Outcome {
	outcome := &Outcome{
		RunID:   uuid.NewString(),
		Started: o.clock.Now(),
	}
	logger := o.logger.With(
		"run_id", outcome.RunID,
		"database", cfg.DatabaseName,
		"collection", cfg.CollectionName,
	)

	release, ok := o.acquire(lockKeys(cfg))
	if !ok {
		logger.Warn("Previous run still in progress, skipping this tick")
		outcome.Kind = OutcomeSkipped
		outcome.Reason = errors.ErrRunInProgress.Error()
		outcome.Finished = o.clock.Now()
		return outcome
	}
	defer release()

	logger.Info("Starting run")
	r := &run{cfg: cfg, logger: logger, outcome: outcome}

	state := StateExporting
	for state != StateDone {
		next, err := o.step(ctx, state, r)
		if err != nil {
			outcome.Kind = OutcomeFailed
			outcome.FailedStage = state
			outcome.Err = err
			logger.Error("Run failed", "stage", state.String(), "error", err)
			break
		}
		state = next
	}

	outcome.Finished = o.clock.Now()
	if outcome.Kind != OutcomeFailed {
		logger.Info("Run finished",
			"outcome", outcome.Kind.String(),
			"exported", outcome.Exported,
			"deleted", outcome.Deleted,
			"archive", outcome.ArchiveKey,
			"warnings", len(outcome.Warnings),
			"duration", outcome.Duration().Round(time.Millisecond),
		)
	}
	return outcome
}

func (o *Orchestrator) step(ctx context.Context, state State, r *run) (next State, err error) {
	handler, ok := o.handlers[state]
	if !ok {
		return StateFailed, fmt.Errorf("no handler for state %s", state)
	}

	defer func() {
		if p := recover(); p != nil {
			next, err = StateFailed, fmt.Errorf("panic in %s: %v", state, p)
		}
	}()

	r.logger.Debug("Entering state", "state", state.String())
	return handler(ctx, r)
}

func (o *Orchestrator) export(ctx context.Context, r *run) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DumpTimeout)
	defer cancel()

	snapshot, err := o.exporter.Export(ctx, targetOf(r.cfg), r.cfg.WorkDir)
	if err != nil {
		return StateFailed, err
	}
	r.snapshot = snapshot
	r.outcome.Exported = snapshot.DocumentCount()

	if snapshot.DocumentCount() == 0 {
		r.logger.Info("Dump has no documents, nothing to do")
		if err := o.cleaner.Clean(snapshot.Dir); err != nil {
			o.warn(r, "Failed to remove empty snapshot", err)
		}
		r.outcome.Kind = OutcomeSkipped
		r.outcome.Reason = "export contained no documents"
		return StateDone, nil
	}

	r.logger.Info("Export complete", "documents", snapshot.DocumentCount(), "dump_file", snapshot.DumpFile)
	return StateArchiving, nil
}

func (o *Orchestrator) archive(ctx context.Context, r *run) (State, error) {
	key := ArchiveKey(r.cfg.DatabaseName, r.cfg.CollectionName, o.clock.Now())
	archivePath := LocalArchivePath(r.cfg.ArchiveDir, key)

	if !o.claimKey(collectionKey(r.cfg), key) {
		return StateFailed, errors.NewArchiveError(archivePath,
			fmt.Errorf("archive key %s was already used by an earlier run", key))
	}

	r.outcome.ArchiveKey = key
	r.outcome.ArchivePath = archivePath

	r.logger.Debug("Compressing snapshot", "archive", archivePath)
	size, err := o.archiver.Archive(ctx, r.snapshot.Dir, archivePath)
	if err != nil {
		return StateFailed, err
	}
	r.outcome.ArchiveSize = size

	r.logger.Info("Archive created", "archive", archivePath, "size", humanize.Bytes(uint64(size)))
	return StateUploading, nil
}

func (o *Orchestrator) upload(ctx context.Context, r *run) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
	defer cancel()

	receipt, err := o.uploader.Upload(ctx, destinationOf(r.cfg), r.outcome.ArchivePath, r.outcome.ArchiveKey)
	if err != nil {
		return StateFailed, err
	}
	r.receipt = receipt
	r.outcome.ArchiveKey = receipt.Key
	r.outcome.Encrypted = receipt.Encrypted

	r.logger.Info("Upload confirmed", "bucket", receipt.Bucket, "key", receipt.Key, "etag", receipt.ETag)
	return StatePurging, nil
}

func (o *Orchestrator) purge(ctx context.Context, r *run) (State, error) {
	// Purging requires a confirmed receipt.
	if r.receipt == nil {
		return StateFailed, fmt.Errorf("purge attempted without a confirmed upload")
	}

	ids := r.snapshot.IDs
	r.logger.Debug("Deleting archived documents", "count", len(ids))

	result, err := o.purger.Purge(ctx, targetOf(r.cfg), ids)
	if err != nil {
		o.warn(r, "Purge could not be submitted; documents remain until a later run", err)
		return StateCleaningUp, nil
	}

	r.outcome.Deleted = result.Deleted
	if result.Mismatch != nil {
		o.warn(r, "Purge deleted fewer documents than exported", result.Mismatch)
	} else {
		r.logger.Info("Purge complete", "deleted", result.Deleted)
	}
	return StateCleaningUp, nil
}

func (o *Orchestrator) cleanUp(_ context.Context, r *run) (State, error) {
	if err := o.cleaner.Clean(r.snapshot.Dir, r.outcome.ArchivePath); err != nil {
		o.warn(r, "Failed to remove local files", err)
	}
	r.outcome.Kind = OutcomeCompleted
	return StateDone, nil
}

func (o *Orchestrator) warn(r *run, msg string, err error) {
	r.outcome.Warnings = append(r.outcome.Warnings, err)

	attrs := []any{"error", err}
	var mismatch *errors.PurgeMismatchError
	if stderrors.As(err, &mismatch) {
		attrs = append(attrs, "expected", mismatch.Expected, "actual", mismatch.Actual)
	}
	r.logger.Warn(msg, attrs...)
}

// acquire claims every key or none of them.
func (o *Orchestrator) acquire(keys []string) (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, k := range keys {
		if _, busy := o.active[k]; busy {
			return nil, false
		}
	}
	for _, k := range keys {
		o.active[k] = struct{}{}
	}

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for _, k := range keys {
			delete(o.active, k)
		}
	}, true
}

// claimKey records key as issued for the collection. It fails when the
// previous run of the same collection already used it.
func (o *Orchestrator) claimKey(collection, key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastKeys[collection] == key {
		return false
	}
	o.lastKeys[collection] = key
	return true
}

func collectionKey(cfg *config.BackupConfig) string {
	return "collection:" + cfg.DatabaseName + "." + cfg.CollectionName
}

func lockKeys(cfg *config.BackupConfig) []string {
	return []string{
		collectionKey(cfg),
		"dir:" + absPath(cfg.WorkDir),
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// ArchiveKey names an archive as {database}/{collection}/{timestamp}.tar.gz.
// The key always uses forward slashes; LocalArchivePath converts it.
func ArchiveKey(dbName, collection string, t time.Time) string {
	return path.Join(dbName, collection, t.UTC().Format(TimestampLayout)+compress.ArchiveExtension)
}

func LocalArchivePath(archiveDir, key string) string {
	return filepath.Join(archiveDir, filepath.FromSlash(key))
}

func targetOf(cfg *config.BackupConfig) backup.Target {
	return backup.Target{
		URI:            cfg.MongoURI,
		DatabaseName:   cfg.DatabaseName,
		CollectionName: cfg.CollectionName,
	}
}

func destinationOf(cfg *config.BackupConfig) storage.Destination {
	return storage.Destination{
		Bucket:          cfg.BucketName,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
	}
}
