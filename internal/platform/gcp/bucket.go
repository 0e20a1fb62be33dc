package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const downloadTimeout = 5 * time.Minute

// BucketService copies generated clips out of object storage.
type BucketService interface {
	// FetchToFile downloads a gs://bucket/key object to dest. dest is written once, via a temp file.
	FetchToFile(ctx context.Context, uri, dest string) error
	Close() error
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	httpClient    *http.Client
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewBucketServiceWithConfig(log, storageCfg)
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	serviceLog := log.With("service", "BucketService")

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info("Object storage initialized",
		"mode", storageCfg.Mode,
		"implied_by_host", storageCfg.ImpliedByHost,
		"emulator_host", storageCfg.EmulatorHost,
	)
	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		httpClient:    &http.Client{Timeout: downloadTimeout},
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(storageCfg.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Field: "OBJECT_STORAGE_MODE", Value: string(storageCfg.Mode), Reason: "unsupported mode"}
	}
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.storageClient == nil {
		return nil
	}
	return bs.storageClient.Close()
}

// ParseGCSURI splits gs://bucket/key. Any other scheme, or a missing bucket or key, is an input error.
func ParseGCSURI(uri string) (bucket, key string, err error) {
	uri = strings.TrimSpace(uri)
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("not a gs:// uri: %q", uri))
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("gs:// uri needs bucket and object: %q", uri))
	}
	return bucket, key, nil
}

func (bs *bucketService) FetchToFile(ctx context.Context, uri, dest string) error {
	ctx = ctxutil.Default(ctx)
	bucket, key, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	if strings.TrimSpace(dest) == "" {
		return apperr.Wrap(apperr.ErrInput, errors.New("destination path required"))
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	r, err := bs.open(ctx, bucket, key)
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, fmt.Errorf("mkdir: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return apperr.Wrap(apperr.ErrRetrieval, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		return apperr.Wrap(apperr.ErrRetrieval, fmt.Errorf("download %s: %w", uri, errors.Join(copyErr, closeErr)))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Wrap(apperr.ErrRetrieval, fmt.Errorf("rename into place: %w", err))
	}
	bs.log.Info("Object downloaded", "uri", uri, "dest", dest, "bytes", n)
	return nil
}

func (bs *bucketService) open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bs.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, bs.emulatorObjectMediaURL(bucket, key), nil)
		if err != nil {
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := bs.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return resp.Body, nil
	}
	r, err := bs.storageClient.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader for gs://%s/%s: %w", bucket, key, err)
	}
	return r, nil
}

func (bs *bucketService) isEmulatorMode() bool {
	return bs != nil && bs.storageMode == ObjectStorageModeGCSEmulator && bs.emulatorHost != ""
}

func (bs *bucketService) emulatorObjectMediaURL(bucket, key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		bs.emulatorHost,
		url.PathEscape(bucket),
		url.PathEscape(key),
	)
}
