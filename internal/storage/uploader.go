package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/jorgepascosoto/collection-archiver/internal/encrypt"
	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

const DefaultConfirmTimeout = 2 * time.Minute

// Receipt is returned only after the store has confirmed the object exists.
type Receipt struct {
	Bucket    string
	Key       string
	Location  string
	ETag      string
	VersionID string
	Size      int64
	Encrypted bool
}

type ClientFactory func(ctx context.Context, dest Destination) (API, error)

// S3Uploader transfers local archives to S3. It never retries on its own
// and never touches the local file beyond reading it.
type S3Uploader struct {
	newClient      ClientFactory
	encryptor      *encrypt.AESEncryptor
	confirmTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*S3Uploader)

// WithEncryptor encrypts the archive on the fly and appends the encryptor's
// extension to the object key.
func WithEncryptor(e *encrypt.AESEncryptor) Option {
	return func(u *S3Uploader) {
		u.encryptor = e
	}
}

func WithClientFactory(f ClientFactory) Option {
	return func(u *S3Uploader) {
		u.newClient = f
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(u *S3Uploader) {
		u.confirmTimeout = d
	}
}

func NewS3Uploader(logger *slog.Logger, opts ...Option) *S3Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	u := &S3Uploader{
		newClient: func(ctx context.Context, dest Destination) (API, error) {
			return NewS3Client(ctx, dest)
		},
		confirmTimeout: DefaultConfirmTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores localPath under key and waits for HeadObject to confirm it.
func (u *S3Uploader) Upload(ctx context.Context, dest Destination, localPath, key string) (*Receipt, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.NewStorageError("upload", dest.Bucket, key, fmt.Errorf("failed to open archive: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewStorageError("upload", dest.Bucket, key, fmt.Errorf("failed to stat archive: %w", err))
	}

	client, err := u.newClient(ctx, dest)
	if err != nil {
		return nil, errors.NewStorageError("upload", dest.Bucket, key, err)
	}

	var body io.Reader = f
	if u.encryptor != nil {
		encrypted, err := u.encryptor.Encrypt(f)
		if err != nil {
			return nil, errors.NewStorageError("upload", dest.Bucket, key, fmt.Errorf("%w: %v", errors.ErrEncryptionFailed, err))
		}
		defer encrypted.Close()
		body = encrypted
		key += u.encryptor.Extension()
	}

	u.logger.Debug("Uploading archive",
		"bucket", dest.Bucket,
		"key", key,
		"size", humanize.Bytes(uint64(info.Size())),
		"encrypted", u.encryptor != nil,
	)

	// The upload manager switches to multipart for large archives.
	// Archive keys are write-once; IfNoneMatch makes the store reject an
	// existing key.
	uploader := manager.NewUploader(client)
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dest.Bucket),
		Key:         aws.String(key),
		Body:        body,
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"uploaded-by": "collection-archiver",
		},
	})
	if err != nil {
		return nil, errors.NewStorageError("upload", dest.Bucket, key, err)
	}

	head, err := s3.NewObjectExistsWaiter(client, func(o *s3.ObjectExistsWaiterOptions) {
		o.MinDelay = time.Second
	}).WaitForOutput(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(key),
	}, u.confirmTimeout)
	if err != nil {
		return nil, errors.NewStorageError("confirm", dest.Bucket, key, err)
	}

	stored := aws.ToInt64(head.ContentLength)
	if u.encryptor == nil && stored != info.Size() {
		return nil, errors.NewStorageError("confirm", dest.Bucket, key,
			fmt.Errorf("stored size %d does not match local size %d", stored, info.Size()))
	}

	return &Receipt{
		Bucket:    dest.Bucket,
		Key:       key,
		Location:  out.Location,
		ETag:      aws.ToString(head.ETag),
		VersionID: aws.ToString(head.VersionId),
		Size:      stored,
		Encrypted: u.encryptor != nil,
	}, nil
}
