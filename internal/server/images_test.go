package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedImage(t *testing.T) {
	assert.True(t, allowedImage("photo.jpg"))
	assert.True(t, allowedImage("photo.JPEG"))
	assert.True(t, allowedImage("photo.png"))
	assert.True(t, allowedImage("photo.gif"))
	assert.False(t, allowedImage("notes.txt"))
	assert.False(t, allowedImage("archive.zip"))
	assert.False(t, allowedImage("noext"))
}

func TestSaveImagePartitionsByMonth(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 12, 4, 19, 28, 15, 0, time.UTC)

	rel, err := saveImage(dir, "obs.png", []byte("img"), now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "202512/record_20251204_192815_"))
	assert.True(t, strings.HasSuffix(rel, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestSaveImageDefaultsExtension(t *testing.T) {
	rel, err := saveImage(t.TempDir(), "", []byte("img"), time.Now())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rel, ".jpg"))
}

func TestSavePhotoDisambiguatesCollisions(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	first, err := savePhoto(dir, "capture.jpg", []byte("a"), now)
	require.NoError(t, err)
	assert.Equal(t, "capture.jpg", first)

	second, err := savePhoto(dir, "capture.jpg", []byte("b"), now)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	kept, err := os.ReadFile(filepath.Join(dir, first))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), kept, "an existing photo is never overwritten")
}

func TestSavePhotoRejectsUnsafeNames(t *testing.T) {
	dir := t.TempDir()

	name, err := savePhoto(dir, "../../etc/passwd.txt", []byte("x"), time.Date(2025, 12, 4, 19, 28, 15, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "capture_20251204_192815.jpg", name, "unsafe names fall back to a generated one")
}

func TestResolveImageRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s := &Server{
		imagesDir: filepath.Join(dir, "images"),
		photoDir:  filepath.Join(dir, "photos"),
		qrDir:     filepath.Join(dir, "qrcodes"),
	}
	require.NoError(t, os.MkdirAll(s.imagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.imagesDir, "ok.jpg"), []byte("y"), 0o644))

	_, ok := s.resolveImage("../secret.txt")
	assert.False(t, ok)

	full, ok := s.resolveImage("ok.jpg")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.imagesDir, "ok.jpg"), full)
}

func TestResolveImageAcceptsRootPrefixedPaths(t *testing.T) {
	dir := t.TempDir()
	s := &Server{
		imagesDir: filepath.Join(dir, "images"),
		photoDir:  filepath.Join(dir, "photos"),
		qrDir:     filepath.Join(dir, "qrcodes"),
	}
	require.NoError(t, os.MkdirAll(s.photoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.photoDir, "capture.jpg"), []byte("z"), 0o644))

	full, ok := s.resolveImage("photos/capture.jpg")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(s.photoDir, "capture.jpg"), full)
}
