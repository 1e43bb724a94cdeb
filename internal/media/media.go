// Package media stores inbound chat images on disk for injection into the
// CLI session. Images land under <app dir>/images/<sessionId>/ and are wiped
// on session end and on daemon startup.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// maxEdge bounds either dimension of a stored image; terminal tools choke on
// huge screenshots.
const maxEdge = 1568

// Store owns the images directory.
type Store struct {
	root string
}

// NewStore roots the image tree at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Save decodes, downsizes when oversized, and writes one image for a
// session. Returns the local path the CLI can reference.
func (s *Store) Save(sessionID string, data []byte) (string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	ext := ".png"
	if format == "jpeg" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, uuid.NewString()[:8]+ext)
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

// DropSession removes a session's image directory.
func (s *Store) DropSession(sessionID string) {
	os.RemoveAll(filepath.Join(s.root, sessionID))
}

// WipeAll clears the whole image tree (daemon startup).
func (s *Store) WipeAll() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(s.root, e.Name()))
	}
}
