package scan

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"
)

// FacingMode selects a logical camera orientation when no concrete device id
// is available.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// DeviceInfo describes one enumerated capture device.
type DeviceInfo struct {
	ID    string
	Label string
}

// Constraints selects the stream to open: a concrete device id when known,
// otherwise a facing mode.
type Constraints struct {
	DeviceID string
	Facing   FacingMode
}

// Stream is a live sequence of video frames. Stop releases the underlying
// device and makes pending and future Frame calls fail.
type Stream interface {
	// Frame blocks until the next frame is available.
	Frame(ctx context.Context) (image.Image, error)
	Stop()
}

// Camera abstracts the host's media devices so the session logic stays
// independent of any particular capture backend.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	// Enumerate may return an empty or stale list; callers must tolerate
	// that and recover on the next enumeration.
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
}

// DirectoryCamera plays the images in a directory back as a frame stream.
// It stands in for a physical camera on headless hosts and in tests.
type DirectoryCamera struct {
	Dir string
}

func (d *DirectoryCamera) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: d.Dir, Label: "directory:" + filepath.Base(d.Dir)}}, nil
}

func (d *DirectoryCamera) Open(ctx context.Context, c Constraints) (Stream, error) {
	dir := d.Dir
	if c.DeviceID != "" {
		dir = c.DeviceID
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}
	return &directoryStream{paths: paths, stopped: make(chan struct{})}, nil
}

type directoryStream struct {
	mu      sync.Mutex
	paths   []string
	next    int
	stopped chan struct{}
	once    sync.Once
}

func (s *directoryStream) Frame(ctx context.Context) (image.Image, error) {
	select {
	case <-s.stopped:
		return nil, fmt.Errorf("stream stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	path := s.paths[s.next%len(s.paths)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

func (s *directoryStream) Stop() {
	s.once.Do(func() { close(s.stopped) })
}
