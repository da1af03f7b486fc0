package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/chatvault/model"
)

func newTestLocalFiles(t *testing.T, opts ...LocalFilesOption) *LocalFiles {
	t.Helper()
	lf, err := NewLocalFiles(t.TempDir(), opts...)
	require.NoError(t, err)
	return lf
}

func TestLocalFilesUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	require.NoError(t, lf.Upload(ctx, "u1/conv-1/a.pdf", []byte("0123456789"), "application/pdf"))

	data, ok, err := lf.Download(ctx, "u1/conv-1/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("0123456789"), data)

	exists, err := lf.Exists(ctx, "u1/conv-1/a.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	ct, ok, err := lf.ContentType(ctx, "u1/conv-1/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "application/pdf", ct)
}

func TestLocalFilesDownloadMissing(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	data, ok, err := lf.Download(ctx, "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	exists, err := lf.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalFilesUploadOverwrites(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	require.NoError(t, lf.Upload(ctx, "conv-1/a.pdf", []byte(strings.Repeat("a", 10)), "application/pdf"))
	require.NoError(t, lf.Upload(ctx, "conv-1/a.pdf", []byte(strings.Repeat("b", 20)), "text/plain"))

	data, ok, err := lf.Download(ctx, "conv-1/a.pdf")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, data, 20)

	ct, _, err := lf.ContentType(ctx, "conv-1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(lf.BaseDir(), "conv-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name())
}

func TestLocalFilesDelete(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	require.NoError(t, lf.Upload(ctx, "conv-1/a.txt", []byte("x"), "text/plain"))

	existed, err := lf.Delete(ctx, "conv-1/a.txt")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err := lf.Download(ctx, "conv-1/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lf.ContentType(ctx, "conv-1/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err = lf.Delete(ctx, "conv-1/a.txt")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestLocalFilesDirectoryKeyIsAbsent(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	require.NoError(t, lf.Upload(ctx, "conv-1/a.pdf", []byte("pdf"), "application/pdf"))

	exists, err := lf.Exists(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, exists)

	data, ok, err := lf.Download(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	_, ok, err = lf.ContentType(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err := lf.Delete(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, existed)

	// still false once the directory is empty, and the directory stays
	_, err = lf.Delete(ctx, "conv-1/a.pdf")
	require.NoError(t, err)
	existed, err = lf.Delete(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, existed)
	info, err := os.Stat(filepath.Join(lf.BaseDir(), "conv-1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalFilesRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)

	for _, key := range []string{"", "../escape.txt", "a/../../escape.txt", "/etc/passwd", ".meta/a.txt"} {
		t.Run(key, func(t *testing.T) {
			err := lf.Upload(ctx, key, []byte("x"), "text/plain")
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation), "got %v", err)

			_, _, err = lf.Download(ctx, key)
			assert.True(t, errors.Is(err, model.ErrValidation))
		})
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(lf.BaseDir()), "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalFilesSignedURLUnavailableByDefault(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t)
	require.NoError(t, lf.Upload(ctx, "conv-1/a.txt", []byte("x"), "text/plain"))

	u, ok, err := lf.SignedURL(ctx, "conv-1/a.txt", time.Hour, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, u)
}

func TestLocalFilesSignedURLRejectsNegativeExpiry(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t, WithSignedURLs("https://files.example.com", "secret"))

	_, _, err := lf.SignedURL(ctx, "conv-1/a.txt", -time.Second, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestLocalFilesSignedURL(t *testing.T) {
	ctx := context.Background()
	lf := newTestLocalFiles(t, WithSignedURLs("https://files.example.com/", "secret"))
	fixed := time.Unix(1_700_000_000, 0)
	lf.now = func() time.Time { return fixed }

	_, ok, err := lf.SignedURL(ctx, "u1/conv-1/missing.txt", time.Hour, "")
	require.NoError(t, err)
	assert.False(t, ok, "absent keys have no URL")

	require.NoError(t, lf.Upload(ctx, "u1/conv-1/my report.pdf", []byte("x"), "application/pdf"))
	raw, ok, err := lf.SignedURL(ctx, "u1/conv-1/my report.pdf", time.Hour, "my report.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "files.example.com", u.Host)
	assert.Equal(t, "/u1/conv-1/my report.pdf", u.Path)

	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), expires)
	assert.Equal(t, "my report.pdf", q.Get("filename"))

	key := strings.TrimPrefix(u.Path, "/")
	assert.NoError(t, lf.VerifySignedURL(key, expires, q.Get("filename"), q.Get("signature"), fixed))
	assert.ErrorIs(t, lf.VerifySignedURL(key, expires, q.Get("filename"), q.Get("signature"), fixed.Add(2*time.Hour)), ErrURLExpired)
	assert.ErrorIs(t, lf.VerifySignedURL(key, expires, "other.pdf", q.Get("signature"), fixed), ErrURLSignature)
	assert.ErrorIs(t, lf.VerifySignedURL("u1/conv-1/other.pdf", expires, q.Get("filename"), q.Get("signature"), fixed), ErrURLSignature)
}
