package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

const (
	KeyMongoURI        = "mongodb_uri"
	KeyDatabaseName    = "database_name"
	KeyCollectionName  = "collection_name"
	KeyBucketName      = "aws_s3_bucket_name"
	KeyRegion          = "aws_region"
	KeyAccessKey       = "aws_access_key"
	KeySecretKey       = "aws_secret_key"
	KeyEndpoint        = "aws_endpoint_url"
	KeyWorkDir         = "tmp_dump_folder"
	KeyArchiveDir      = "archive_folder"
	KeyHourToRunAt     = "hour_to_run_at"
	KeyLogLevel        = "log_level"
	KeyDumpBinary      = "mongodump_path"
	KeyDumpTimeout     = "dump_timeout"
	KeyUploadTimeout   = "upload_timeout"
	KeyEncryptionKey   = "encryption_key"
	KeyWebhookURL      = "webhook_url"
	KeyNotifyOnSuccess = "notify_on_success"
	KeyNotifyOnFailure = "notify_on_failure"
	KeyRunOnce         = "run_once"

	KeyCompressionLevel = "compression_level"
)

const (
	DefaultMongoURI      = "mongodb://mongodb:27017"
	DefaultWorkDir       = "backup"
	DefaultArchiveDir    = "archives"
	DefaultHourToRunAt   = 2
	DefaultDumpBinary    = "mongodump"
	DefaultDumpTimeout   = time.Hour
	DefaultUploadTimeout = time.Hour

	DefaultCompressionLevel = gzip.DefaultCompression
)

// envNames maps each key to the environment variable it falls back to.
var envNames = map[string]string{
	KeyMongoURI:        "MONGODB_URI",
	KeyDatabaseName:    "DB_NAME",
	KeyCollectionName:  "COLLECTION_NAME",
	KeyBucketName:      "AWS_S3_BUCKET_NAME",
	KeyRegion:          "AWS_REGION",
	KeyAccessKey:       "AWS_ACCESS_KEY",
	KeySecretKey:       "AWS_SECRET_KEY",
	KeyEndpoint:        "AWS_ENDPOINT_URL",
	KeyWorkDir:         "TMP_DUMP_FOLDER",
	KeyArchiveDir:      "ARCHIVE_FOLDER",
	KeyHourToRunAt:     "HOUR_TO_RUN_AT",
	KeyLogLevel:        "LOG_LEVEL",
	KeyDumpBinary:      "MONGODUMP_PATH",
	KeyDumpTimeout:     "DUMP_TIMEOUT",
	KeyUploadTimeout:   "UPLOAD_TIMEOUT",
	KeyEncryptionKey:   "ENCRYPTION_KEY",
	KeyWebhookURL:      "WEBHOOK_URL",
	KeyNotifyOnSuccess: "NOTIFY_ON_SUCCESS",
	KeyNotifyOnFailure: "NOTIFY_ON_FAILURE",
	KeyRunOnce:         "RUN_ONCE",

	KeyCompressionLevel: "COMPRESSION_LEVEL",
}

// BackupConfig holds everything one pipeline run needs. It is built once
// at startup and treated as read-only afterwards.
type BackupConfig struct {
	// Source database
	MongoURI       string
	DatabaseName   string
	CollectionName string

	// Remote object store
	BucketName      string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string

	// Local working directories
	WorkDir    string
	ArchiveDir string

	// gzip level for the local archive, gzip.HuffmanOnly through
	// gzip.BestCompression.
	CompressionLevel int

	// Schedule and runtime
	HourToRunAt   int
	LogLevel      slog.Level
	DumpBinary    string
	DumpTimeout   time.Duration
	UploadTimeout time.Duration
	RunOnce       bool

	// Optional archive encryption (AES-256)
	EncryptionKey []byte

	// Notification settings
	WebhookURL      string
	NotifyOnSuccess bool
	NotifyOnFailure bool
}

// Load resolves configuration from command-line flags, then environment
// variables, then defaults.
func Load(args []string) (*BackupConfig, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	v := viper.New()
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	return fromViper(v)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("collection-archiver", pflag.ContinueOnError)

	fs.String(KeyMongoURI, DefaultMongoURI, "MongoDB connection string")
	fs.String(KeyDatabaseName, "", "database holding the collection to archive")
	fs.String(KeyCollectionName, "", "collection to archive and purge")
	fs.String(KeyBucketName, "", "S3 bucket receiving the archives")
	fs.String(KeyRegion, "", "S3 region")
	fs.String(KeyAccessKey, "", "S3 access key id")
	fs.String(KeySecretKey, "", "S3 secret access key")
	fs.String(KeyEndpoint, "", "custom endpoint for S3-compatible stores")
	fs.String(KeyWorkDir, DefaultWorkDir, "directory mongodump writes the snapshot into")
	fs.String(KeyArchiveDir, DefaultArchiveDir, "directory holding local archives until upload")
	fs.Int(KeyHourToRunAt, DefaultHourToRunAt, "hour of the day (0-23) the daily run starts")
	fs.Int(KeyCompressionLevel, DefaultCompressionLevel, "gzip level for archives (-2 huffman only, -1 default, 0-9)")
	fs.String(KeyLogLevel, "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	fs.String(KeyDumpBinary, DefaultDumpBinary, "path to the mongodump executable")
	fs.Duration(KeyDumpTimeout, DefaultDumpTimeout, "timeout for the dump utility")
	fs.Duration(KeyUploadTimeout, DefaultUploadTimeout, "timeout for the archive upload")
	fs.String(KeyEncryptionKey, "", "base64 encoded 32-byte key to encrypt uploaded archives")
	fs.String(KeyWebhookURL, "", "webhook receiving run summaries")
	fs.Bool(KeyNotifyOnSuccess, true, "notify on completed and skipped runs")
	fs.Bool(KeyNotifyOnFailure, true, "notify on failed runs")
	fs.Bool(KeyRunOnce, false, "run the pipeline once and exit")

	return fs
}

func fromViper(v *viper.Viper) (*BackupConfig, error) {
	cfg := &BackupConfig{
		MongoURI:        getString(v, KeyMongoURI),
		DatabaseName:    getString(v, KeyDatabaseName),
		CollectionName:  getString(v, KeyCollectionName),
		BucketName:      getString(v, KeyBucketName),
		Region:          getString(v, KeyRegion),
		AccessKeyID:     getString(v, KeyAccessKey),
		SecretAccessKey: getString(v, KeySecretKey),
		Endpoint:        getString(v, KeyEndpoint),
		WorkDir:         getString(v, KeyWorkDir),
		ArchiveDir:      getString(v, KeyArchiveDir),
		DumpBinary:      getString(v, KeyDumpBinary),
		WebhookURL:      getString(v, KeyWebhookURL),
		NotifyOnSuccess: v.GetBool(KeyNotifyOnSuccess),
		NotifyOnFailure: v.GetBool(KeyNotifyOnFailure),
		RunOnce:         v.GetBool(KeyRunOnce),
	}

	hour, err := strconv.Atoi(getString(v, KeyHourToRunAt))
	if err != nil {
		return nil, errors.NewConfigError(KeyHourToRunAt, "must be an integer")
	}
	cfg.HourToRunAt = hour

	level, err := strconv.Atoi(getString(v, KeyCompressionLevel))
	if err != nil {
		return nil, errors.NewConfigError(KeyCompressionLevel, "must be an integer")
	}
	cfg.CompressionLevel = level

	logLevel, err := ParseLogLevel(getString(v, KeyLogLevel))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = logLevel

	if cfg.DumpTimeout, err = getDuration(v, KeyDumpTimeout); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = getDuration(v, KeyUploadTimeout); err != nil {
		return nil, err
	}

	if encKeyStr := getString(v, KeyEncryptionKey); encKeyStr != "" {
		key, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil {
			return nil, errors.NewConfigError(KeyEncryptionKey, "must be base64 encoded")
		}
		cfg.EncryptionKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *BackupConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{KeyMongoURI, c.MongoURI},
		{KeyDatabaseName, c.DatabaseName},
		{KeyCollectionName, c.CollectionName},
		{KeyBucketName, c.BucketName},
		{KeyRegion, c.Region},
		{KeyAccessKey, c.AccessKeyID},
		{KeySecretKey, c.SecretAccessKey},
		{KeyWorkDir, c.WorkDir},
		{KeyArchiveDir, c.ArchiveDir},
		{KeyDumpBinary, c.DumpBinary},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.NewConfigError(r.key, "is required")
		}
	}

	if c.HourToRunAt < 0 || c.HourToRunAt > 23 {
		return errors.NewConfigError(KeyHourToRunAt, fmt.Sprintf("must be between 0 and 23, got %d", c.HourToRunAt))
	}
	if c.CompressionLevel < gzip.HuffmanOnly || c.CompressionLevel > gzip.BestCompression {
		return errors.NewConfigError(KeyCompressionLevel, fmt.Sprintf("must be between %d and %d, got %d", gzip.HuffmanOnly, gzip.BestCompression, c.CompressionLevel))
	}
	if c.DumpTimeout <= 0 {
		return errors.NewConfigError(KeyDumpTimeout, "must be positive")
	}
	if c.UploadTimeout <= 0 {
		return errors.NewConfigError(KeyUploadTimeout, "must be positive")
	}
	if len(c.EncryptionKey) > 0 && len(c.EncryptionKey) != 32 {
		return errors.NewConfigError(KeyEncryptionKey, fmt.Sprintf("must be exactly 32 bytes (256 bits), got %d bytes", len(c.EncryptionKey)))
	}

	// The snapshot directory is removed recursively after every run, so it
	// must never contain the archives.
	if within(c.ArchiveDir, c.WorkDir) {
		return errors.NewConfigError(KeyArchiveDir, fmt.Sprintf("must not be inside %s", KeyWorkDir))
	}

	return nil
}

func (c *BackupConfig) HasEncryption() bool {
	return len(c.EncryptionKey) > 0
}

// ParseLogLevel accepts the usual level names, case-insensitively.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.NewConfigError(KeyLogLevel, fmt.Sprintf("unsupported level %q", s))
	}
}

func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(getString(v, key))
	if err != nil {
		return 0, errors.NewConfigError(key, "must be a duration such as 30m or 1h")
	}
	return d, nil
}

// within reports whether path is dir itself or lies below it.
func within(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
