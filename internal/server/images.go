package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

func allowedImage(filename string) bool {
	return allowedImageExts[strings.ToLower(filepath.Ext(filename))]
}

// saveImage writes data under dir with a date-partitioned, collision-free
// name and returns the path relative to dir.
func saveImage(dir, originalName string, data []byte, now time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".jpg"
	}
	partition := now.Format("200601")
	name := fmt.Sprintf("record_%s_%s%s", now.Format("20060102_150405"), uuid.New().String()[:8], ext)
	rel := filepath.Join(partition, name)

	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// savePhoto writes a raw captured frame under dir keeping the client's
// filename when it is safe, and returns the stored filename.
func savePhoto(dir, originalName string, data []byte, now time.Time) (string, error) {
	name := filepath.Base(originalName)
	if name == "" || name == "." || !allowedImage(name) {
		name = fmt.Sprintf("capture_%s.jpg", now.Format("20060102_150405"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create photo directory: %w", err)
	}
	full := filepath.Join(dir, name)
	if _, err := os.Stat(full); err == nil {
		// Name taken; disambiguate.
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_" + uuid.New().String()[:8] + ext
		full = filepath.Join(dir, name)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return name, nil
}

// resolveImage maps a requested image path onto one of the storage roots,
// rejecting traversal outside them.
func (s *Server) resolveImage(requested string) (string, bool) {
	clean := filepath.Clean("/" + requested)
	if strings.Contains(clean, "..") {
		return "", false
	}
	for _, root := range []string{s.imagesDir, s.photoDir, s.qrDir} {
		candidates := []string{clean}
		// Saved paths may already carry the root's directory name, like
		// "photos/capture_x.jpg"; accept those too.
		if prefix := "/" + filepath.Base(root); strings.HasPrefix(clean, prefix+"/") {
			candidates = append(candidates, strings.TrimPrefix(clean, prefix))
		}
		for _, cand := range candidates {
			full := filepath.Join(root, cand)
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				return full, true
			}
		}
	}
	return "", false
}
