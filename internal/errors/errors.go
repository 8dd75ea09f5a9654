package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExportFailed     = errors.New("export failed")
	ErrArchiveFailed    = errors.New("archive failed")
	ErrUploadFailed     = errors.New("upload failed")
	ErrPurgeFailed      = errors.New("purge failed")
	ErrPurgeMismatch    = errors.New("purge count mismatch")
	ErrCleanupFailed    = errors.New("cleanup failed")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrRunInProgress    = errors.New("run already in progress")
)

// ExportError reports a dump or snapshot-parsing failure for one collection.
type ExportError struct {
	DatabaseName   string
	CollectionName string
	Err            error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed for collection '%s.%s': %v", e.DatabaseName, e.CollectionName, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

func (e *ExportError) Is(target error) bool {
	return target == ErrExportFailed
}

func NewExportError(dbName, collection string, err error) *ExportError {
	return &ExportError{
		DatabaseName:   dbName,
		CollectionName: collection,
		Err:            err,
	}
}

type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive failed for '%s': %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

func (e *ArchiveError) Is(target error) bool {
	return target == ErrArchiveFailed
}

func NewArchiveError(path string, err error) *ArchiveError {
	return &ArchiveError{
		Path: path,
		Err:  err,
	}
}

type StorageError struct {
	Operation string
	Bucket    string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for bucket '%s', key '%s': %v", e.Operation, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is treats every storage error as an upload failure; the uploader is the
// only component that talks to the object store.
func (e *StorageError) Is(target error) bool {
	return target == ErrUploadFailed
}

func NewStorageError(op, bucket, key string, err error) *StorageError {
	return &StorageError{
		Operation: op,
		Bucket:    bucket,
		Key:       key,
		Err:       err,
	}
}

// PurgeError means the bulk delete could not be submitted at all.
type PurgeError struct {
	DatabaseName   string
	CollectionName string
	Err            error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("purge failed for collection '%s.%s': %v", e.DatabaseName, e.CollectionName, e.Err)
}

func (e *PurgeError) Unwrap() error {
	return e.Err
}

func (e *PurgeError) Is(target error) bool {
	return target == ErrPurgeFailed
}

func NewPurgeError(dbName, collection string, err error) *PurgeError {
	return &PurgeError{
		DatabaseName:   dbName,
		CollectionName: collection,
		Err:            err,
	}
}

// PurgeMismatchError is the soft failure raised when fewer documents were
// deleted than requested.
type PurgeMismatchError struct {
	Expected int64
	Actual   int64
	Err      error
}

func (e *PurgeMismatchError) Error() string {
	msg := fmt.Sprintf("purge count mismatch: expected %d deleted, got %d", e.Expected, e.Actual)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PurgeMismatchError) Unwrap() error {
	return e.Err
}

func (e *PurgeMismatchError) Is(target error) bool {
	return target == ErrPurgeMismatch
}

func NewPurgeMismatchError(expected, actual int64, cause error) *PurgeMismatchError {
	return &PurgeMismatchError{
		Expected: expected,
		Actual:   actual,
		Err:      cause,
	}
}

type CleanupError struct {
	Paths []string
	Err   error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup failed for [%s]: %v", strings.Join(e.Paths, ", "), e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func (e *CleanupError) Is(target error) bool {
	return target == ErrCleanupFailed
}

func NewCleanupError(paths []string, err error) *CleanupError {
	return &CleanupError{
		Paths: paths,
		Err:   err,
	}
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}
