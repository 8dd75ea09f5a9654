package config

import (
	"encoding/base64"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

// clearEnv resets every variable Load reads so the host environment does
// not leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envNames {
		t.Setenv(env, "")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_NAME", "mydb")
	t.Setenv("COLLECTION_NAME", "mycol")
	t.Setenv("AWS_S3_BUCKET_NAME", "archive-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY", "AKIAEXAMPLE")
	t.Setenv("AWS_SECRET_KEY", "secret")
}

func validConfig() *BackupConfig {
	return &BackupConfig{
		MongoURI:        DefaultMongoURI,
		DatabaseName:    "mydb",
		CollectionName:  "mycol",
		BucketName:      "archive-bucket",
		Region:          "eu-west-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		WorkDir:         DefaultWorkDir,
		ArchiveDir:      DefaultArchiveDir,
		HourToRunAt:     DefaultHourToRunAt,
		DumpBinary:      DefaultDumpBinary,
		DumpTimeout:     DefaultDumpTimeout,
		UploadTimeout:   DefaultUploadTimeout,

		CompressionLevel: DefaultCompressionLevel,
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultMongoURI, cfg.MongoURI)
	assert.Equal(t, "mydb", cfg.DatabaseName)
	assert.Equal(t, "mycol", cfg.CollectionName)
	assert.Equal(t, "archive-bucket", cfg.BucketName)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "AKIAEXAMPLE", cfg.AccessKeyID)
	assert.Equal(t, "secret", cfg.SecretAccessKey)
	assert.Empty(t, cfg.Endpoint)
	assert.Equal(t, DefaultWorkDir, cfg.WorkDir)
	assert.Equal(t, DefaultArchiveDir, cfg.ArchiveDir)
	assert.Equal(t, DefaultHourToRunAt, cfg.HourToRunAt)
	assert.Equal(t, DefaultCompressionLevel, cfg.CompressionLevel)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultDumpBinary, cfg.DumpBinary)
	assert.Equal(t, DefaultDumpTimeout, cfg.DumpTimeout)
	assert.Equal(t, DefaultUploadTimeout, cfg.UploadTimeout)
	assert.True(t, cfg.NotifyOnSuccess)
	assert.True(t, cfg.NotifyOnFailure)
	assert.False(t, cfg.RunOnce)
	assert.False(t, cfg.HasEncryption())
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://db.internal:27017")
	t.Setenv("TMP_DUMP_FOLDER", "/var/lib/archiver/dump")
	t.Setenv("ARCHIVE_FOLDER", "/var/lib/archiver/out")
	t.Setenv("HOUR_TO_RUN_AT", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DUMP_TIMEOUT", "30m")
	t.Setenv("AWS_ENDPOINT_URL", "http://minio:9000")
	t.Setenv("NOTIFY_ON_SUCCESS", "false")
	t.Setenv("RUN_ONCE", "true")
	t.Setenv("COMPRESSION_LEVEL", "9")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.internal:27017", cfg.MongoURI)
	assert.Equal(t, "/var/lib/archiver/dump", cfg.WorkDir)
	assert.Equal(t, "/var/lib/archiver/out", cfg.ArchiveDir)
	assert.Equal(t, 5, cfg.HourToRunAt)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.DumpTimeout)
	assert.Equal(t, "http://minio:9000", cfg.Endpoint)
	assert.False(t, cfg.NotifyOnSuccess)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 9, cfg.CompressionLevel)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv("HOUR_TO_RUN_AT", "5")
	t.Setenv("COMPRESSION_LEVEL", "9")

	cfg, err := Load([]string{
		"--hour_to_run_at=7",
		"--compression_level=1",
		"--collection_name", "orders",
		"--upload_timeout=15m",
	})
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.HourToRunAt)
	assert.Equal(t, "orders", cfg.CollectionName)
	assert.Equal(t, 15*time.Minute, cfg.UploadTimeout)
	assert.Equal(t, 1, cfg.CompressionLevel)
	assert.Equal(t, "mydb", cfg.DatabaseName)
}

func TestLoad_EncryptionKey(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.HasEncryption())
	assert.Equal(t, key, cfg.EncryptionKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		args  []string
		field string
	}{
		{"missing database", map[string]string{"DB_NAME": ""}, nil, KeyDatabaseName},
		{"missing collection", map[string]string{"COLLECTION_NAME": ""}, nil, KeyCollectionName},
		{"missing bucket", map[string]string{"AWS_S3_BUCKET_NAME": ""}, nil, KeyBucketName},
		{"missing region", map[string]string{"AWS_REGION": ""}, nil, KeyRegion},
		{"missing access key", map[string]string{"AWS_ACCESS_KEY": ""}, nil, KeyAccessKey},
		{"missing secret key", map[string]string{"AWS_SECRET_KEY": ""}, nil, KeySecretKey},
		{"hour not a number", map[string]string{"HOUR_TO_RUN_AT": "two"}, nil, KeyHourToRunAt},
		{"hour out of range", nil, []string{"--hour_to_run_at=24"}, KeyHourToRunAt},
		{"negative hour", map[string]string{"HOUR_TO_RUN_AT": "-1"}, nil, KeyHourToRunAt},
		{"compression level not a number", map[string]string{"COMPRESSION_LEVEL": "max"}, nil, KeyCompressionLevel},
		{"compression level too high", nil, []string{"--compression_level=10"}, KeyCompressionLevel},
		{"compression level too low", map[string]string{"COMPRESSION_LEVEL": "-3"}, nil, KeyCompressionLevel},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, nil, KeyLogLevel},
		{"bad timeout", map[string]string{"DUMP_TIMEOUT": "soon"}, nil, KeyDumpTimeout},
		{"zero timeout", map[string]string{"UPLOAD_TIMEOUT": "0s"}, nil, KeyUploadTimeout},
		{"key not base64", map[string]string{"ENCRYPTION_KEY": "not-base64!"}, nil, KeyEncryptionKey},
		{"key too short", map[string]string{"ENCRYPTION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))}, nil, KeyEncryptionKey},
		{"archives inside dump folder", map[string]string{"TMP_DUMP_FOLDER": "work", "ARCHIVE_FOLDER": "work/archives"}, nil, KeyArchiveDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(tt.args)
			require.Error(t, err)
			assert.Nil(t, cfg)

			var cfgErr *errors.ConfigError
			require.True(t, stderrors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_UnknownFlag(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	_, err := Load([]string{"--no_such_flag"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse flags")
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validConfig().Validate())
}

func TestValidate_SiblingDirectories(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WorkDir = "/data/backup"
	cfg.ArchiveDir = "/data/backup-archives"
	assert.NoError(t, cfg.Validate(), "a shared name prefix is not nesting")

	cfg.ArchiveDir = "/data/backup"
	assert.Error(t, cfg.Validate(), "identical directories must be rejected")
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"WARN", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"critical", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}
