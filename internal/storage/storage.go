package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/metrics"
)

// Content types assigned on upload
const (
	ContentTypeManifest = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
)

const manifestExt = ".m3u8"

var (
	// ErrNotFound is returned when the requested object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable is returned for network, auth and other store failures
	ErrUnavailable = errors.New("object store unavailable")
	// ErrNoBody is returned when the store answers without a payload
	ErrNoBody = errors.New("object has no payload body")
)

// page is one response of a paginated listing
type page struct {
	keys      []string
	nextToken string
	truncated bool
}

// objectAPI is the subset of the S3 API the store relies on
type objectAPI interface {
	listPage(ctx context.Context, bucket, prefix, token string) (page, error)
	getObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	putObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) error
	statObject(ctx context.Context, bucket, key string) error
	removeObject(ctx context.Context, bucket, key string) error
	removeObjects(ctx context.Context, bucket string, keys []string) error
	bucketExists(ctx context.Context, bucket string) (bool, error)
	makeBucket(ctx context.Context, bucket, region string) error
}

// Store provides object storage operations against one bucket
type Store struct {
	api           objectAPI
	bucketName    string
	region        string
	baseURL       string
	publicBaseURL string
	publicRead    bool
	logger        *logging.Logger
}

// Options controls publishing behavior of a Store
type Options struct {
	PublicBaseURL string
	PublicRead    bool
}

// New creates a new storage client. No request is made until the first
// operation.
func New(cfg config.StorageConfig, opts Options, logger *logging.Logger) (*Store, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return newStore(&minioAPI{core: &minio.Core{Client: client}}, cfg.BucketName, opts, logger,
		withRegion(cfg.Region), withBaseURL(fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.BucketName))), nil
}

type storeOption func(*Store)

func withRegion(region string) storeOption {
	return func(s *Store) { s.region = region }
}

func withBaseURL(baseURL string) storeOption {
	return func(s *Store) { s.baseURL = baseURL }
}

func newStore(api objectAPI, bucket string, opts Options, logger *logging.Logger, extra ...storeOption) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		api:           api,
		bucketName:    bucket,
		publicBaseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
		publicRead:    opts.PublicRead,
		logger:        logger,
	}
	for _, opt := range extra {
		opt(s)
	}
	return s
}

// Bucket returns the bucket the store is bound to
func (s *Store) Bucket() string {
	return s.bucketName
}

// EnsureBucket creates the bucket if it does not exist yet
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.bucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", classify(err))
	}

	if !exists {
		if err := s.api.makeBucket(ctx, s.bucketName, s.region); err != nil {
			return fmt.Errorf("failed to create bucket: %w", classify(err))
		}
	}

	return nil
}

// List returns every key under prefix, following continuation tokens until
// the store reports no more pages.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var keys []string
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := s.api.listPage(ctx, s.bucketName, prefix, token)
		if err != nil {
			err = fmt.Errorf("failed to list objects: %w", classify(err))
			s.observe("list", prefix, 0, start, err)
			return nil, err
		}
		keys = append(keys, p.keys...)

		if !p.truncated || p.nextToken == "" {
			break
		}
		token = p.nextToken
	}

	s.observe("list", prefix, 0, start, nil)
	return keys, nil
}

// Get returns a stream of the object's body. The caller closes it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()

	body, size, err := s.api.getObject(ctx, s.bucketName, key)
	if err != nil {
		err = fmt.Errorf("failed to get object %s: %w", key, classify(err))
		s.observe("get", key, 0, start, err)
		return nil, err
	}
	if body == nil || size == 0 {
		if body != nil {
			body.Close()
		}
		err = fmt.Errorf("failed to get object %s: %w", key, ErrNoBody)
		s.observe("get", key, 0, start, err)
		return nil, err
	}

	s.observe("get", key, size, start, nil)
	return body, nil
}

// DownloadFile streams an object into a local file
func (s *Store) DownloadFile(ctx context.Context, key, filePath string) (int64, error) {
	body, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filePath, err)
	}

	src := &bodyReader{r: body}
	written, err := io.Copy(file, src)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	switch {
	case src.err != nil:
		return written, fmt.Errorf("failed to download object %s: %w", key, errors.Join(ErrUnavailable, src.err))
	case err != nil:
		return written, fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	return written, nil
}

// bodyReader remembers read failures so they can be told apart from local
// write failures
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

// Put uploads a stream. Content type follows ContentType(key).
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64) error {
	start := time.Now()

	err := s.api.putObject(ctx, s.bucketName, key, reader, size, s.putOptions(key))
	if err != nil {
		err = fmt.Errorf("failed to upload object %s: %w", key, classify(err))
	}

	s.observe("put", key, size, start, err)
	return err
}

// PutFile uploads a file from the local filesystem
func (s *Store) PutFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	return s.Put(ctx, key, file, info.Size())
}

// Exists reports whether an object is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	err := s.api.statObject(ctx, s.bucketName, key)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			s.observe("stat", key, 0, start, nil)
			return false, nil
		}
		err = fmt.Errorf("failed to stat object %s: %w", key, err)
		s.observe("stat", key, 0, start, err)
		return false, err
	}

	s.observe("stat", key, 0, start, nil)
	return true, nil
}

// Delete deletes an object from storage
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := s.api.removeObject(ctx, s.bucketName, key)
	if err != nil {
		err = fmt.Errorf("failed to delete object %s: %w", key, classify(err))
	}

	s.observe("delete", key, 0, start, err)
	return err
}

// DeleteAll removes keys in a single batch request
func (s *Store) DeleteAll(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	err := s.api.removeObjects(ctx, s.bucketName, keys)
	if err != nil {
		err = fmt.Errorf("failed to delete %d objects: %w", len(keys), classify(err))
	}

	s.observe("batch_delete", fmt.Sprintf("%d keys", len(keys)), 0, start, err)
	return err
}

// URL returns the public URL of an object
func (s *Store) URL(key string) string {
	base := s.publicBaseURL
	if base == "" {
		base = s.baseURL
	}
	return base + "/" + escapeKey(key)
}

func (s *Store) putOptions(key string) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{
		ContentType: ContentType(key),
	}
	if s.publicRead {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}
	return opts
}

func (s *Store) observe(operation, key string, size int64, start time.Time, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(operation, status, duration.Seconds(), size)
	s.logger.LogStorageOperation(operation, s.bucketName, key, size, duration, err)
}

// ContentType returns the media type for an uploaded HLS artifact: manifests
// get the HLS playlist type, everything else is a transport stream segment.
func ContentType(key string) string {
	if strings.EqualFold(path.Ext(key), manifestExt) {
		return ContentTypeManifest
	}
	return ContentTypeSegment
}

// classify maps S3 errors onto ErrNotFound and ErrUnavailable
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
