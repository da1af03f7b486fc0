package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/chatvault/model"
)

// metaDir holds the content-type sidecars, mirroring the object tree.
const metaDir = ".meta"

var (
	// ErrURLExpired is returned by VerifySignedURL once the expiry has passed.
	ErrURLExpired = errors.New("signed url expired")

	// ErrURLSignature is returned by VerifySignedURL for a bad signature.
	ErrURLSignature = errors.New("signed url signature mismatch")
)

// LocalFiles implements FilesBackend on the local filesystem. A key maps to a
// relative path under the base directory.
type LocalFiles struct {
	baseDir   string
	urlBase   string
	urlSecret []byte
	now       func() time.Time
}

// LocalFilesOption configures a LocalFiles backend.
type LocalFilesOption func(*LocalFiles)

// WithSignedURLs enables SignedURL. URLs point at baseURL and are signed
// with HMAC-SHA256 using secret.
func WithSignedURLs(baseURL, secret string) LocalFilesOption {
	return func(lf *LocalFiles) {
		lf.urlBase = strings.TrimRight(baseURL, "/")
		lf.urlSecret = []byte(secret)
	}
}

// NewLocalFiles creates the base directory if needed.
func NewLocalFiles(baseDir string, opts ...LocalFilesOption) (*LocalFiles, error) {
	if baseDir == "" {
		return nil, errors.New("files directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	lf := &LocalFiles{baseDir: baseDir, now: time.Now}
	for _, opt := range opts {
		opt(lf)
	}
	return lf, nil
}

// BaseDir returns the root directory objects are stored under.
func (lf *LocalFiles) BaseDir() string {
	return lf.baseDir
}

// Upload writes data under key, replacing any previous object. The bytes go
// to a temp file first so readers never see a partial object.
func (lf *LocalFiles) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := lf.objectPath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return backendErr("local", "upload", key, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return backendErr("local", "upload", key, err)
	}
	if err := writeAtomic(lf.metaPath(key), []byte(contentType)); err != nil {
		return backendErr("local", "upload", key, fmt.Errorf("failed to write content type: %w", err))
	}
	return nil
}

// Download reads the object stored under key.
// Returns nil, false, nil if it doesn't exist.
func (lf *LocalFiles) Download(ctx context.Context, key string) ([]byte, bool, error) {
	path, err := lf.objectPath(key)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, backendErr("local", "download", key, err)
	}
	ok, err := isObject(path)
	if err != nil {
		return nil, false, backendErr("local", "download", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendErr("local", "download", key, err)
	}
	return data, true, nil
}

// Delete removes the object and its sidecar.
func (lf *LocalFiles) Delete(ctx context.Context, key string) (bool, error) {
	path, err := lf.objectPath(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, backendErr("local", "delete", key, err)
	}
	ok, err := isObject(path)
	if err != nil {
		return false, backendErr("local", "delete", key, err)
	}
	if !ok {
		return false, nil
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, backendErr("local", "delete", key, err)
	}
	if err := os.Remove(lf.metaPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, backendErr("local", "delete", key, fmt.Errorf("failed to remove content type: %w", err))
	}
	return true, nil
}

// Exists reports whether an object is stored under key.
func (lf *LocalFiles) Exists(ctx context.Context, key string) (bool, error) {
	path, err := lf.objectPath(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, backendErr("local", "exists", key, err)
	}
	ok, err := isObject(path)
	if err != nil {
		return false, backendErr("local", "exists", key, err)
	}
	return ok, nil
}

// ContentType returns the content type recorded at upload.
// Returns "", false, nil if the object has no sidecar.
func (lf *LocalFiles) ContentType(ctx context.Context, key string) (string, bool, error) {
	if _, err := lf.objectPath(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, backendErr("local", "content_type", key, err)
	}
	ok, err := isObject(lf.metaPath(key))
	if err != nil {
		return "", false, backendErr("local", "content_type", key, err)
	}
	if !ok {
		return "", false, nil
	}
	data, err := os.ReadFile(lf.metaPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, backendErr("local", "content_type", key, err)
	}
	return string(data), true, nil
}

// SignedURL issues {base}/{key}?expires=..&filename=..&signature=.. when the
// backend was built WithSignedURLs. Without it, URLs are never available.
func (lf *LocalFiles) SignedURL(ctx context.Context, key string, expiresIn time.Duration, downloadFilename string) (string, bool, error) {
	if expiresIn < 0 {
		return "", false, model.Invalid("expires_in", "must not be negative, got %s", expiresIn)
	}
	if lf.urlBase == "" || len(lf.urlSecret) == 0 {
		if _, err := lf.objectPath(key); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	ok, err := lf.Exists(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}

	expires := lf.now().Add(expiresIn).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	if downloadFilename != "" {
		q.Set("filename", downloadFilename)
	}
	q.Set("signature", lf.sign(key, expires, downloadFilename))

	return lf.urlBase + "/" + escapeKey(key) + "?" + q.Encode(), true, nil
}

// VerifySignedURL checks the parameters of a URL issued by SignedURL.
func (lf *LocalFiles) VerifySignedURL(key string, expires int64, filename, signature string, now time.Time) error {
	if len(lf.urlSecret) == 0 {
		return ErrURLSignature
	}
	want := lf.sign(key, expires, filename)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrURLSignature
	}
	if now.Unix() > expires {
		return ErrURLExpired
	}
	return nil
}

func (lf *LocalFiles) sign(key string, expires int64, filename string) string {
	mac := hmac.New(sha256.New, lf.urlSecret)
	fmt.Fprintf(mac, "%s\n%d\n%s", key, expires, filename)
	return hex.EncodeToString(mac.Sum(nil))
}

// objectPath resolves key under the base directory, rejecting anything that
// could land outside it.
func (lf *LocalFiles) objectPath(key string) (string, error) {
	if key == "" {
		return "", model.Invalid("key", "must not be empty")
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", model.Invalid("key", "%q escapes the files directory", key)
	}
	first := strings.SplitN(filepath.ToSlash(filepath.Clean(rel)), "/", 2)[0]
	if first == metaDir {
		return "", model.Invalid("key", "%q uses a reserved prefix", key)
	}
	return filepath.Join(lf.baseDir, rel), nil
}

// isObject reports whether path holds a stored object. Directories created
// for nested keys are not objects.
func isObject(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (lf *LocalFiles) metaPath(key string) string {
	return filepath.Join(lf.baseDir, metaDir, filepath.FromSlash(key))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move temp file into place: %w", err)
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Verify LocalFiles implements FilesBackend
var _ FilesBackend = (*LocalFiles)(nil)
