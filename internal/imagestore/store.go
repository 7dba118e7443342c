// Package imagestore owns the pipeline's filesystem tree of card images:
// original uploads, extracted label crops, and stitched composites. Files
// are addressed by content-hash names so identical uploads collide into
// one stored file. Metadata deletion is authoritative elsewhere; file
// removal here is best-effort and only ever logged.
package imagestore

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"gradescan/internal/logger"
)

const (
	fullDir     = "full"
	labelDir    = "labels"
	stitchedDir = "stitched"
)

// Store is a filesystem image store rooted at a single directory.
type Store struct {
	root string
	log  zerolog.Logger
}

// New creates the storage tree under root if needed and returns the store.
func New(root string) (*Store, error) {
	for _, dir := range []string{fullDir, labelDir, stitchedDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return &Store{
		root: root,
		log:  logger.WithComponent("imagestore"),
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// SaveFull stores an uploaded image under its content hash and returns the
// stored path and the hash. Saving the same bytes twice yields the same path.
func (s *Store) SaveFull(data []byte, originalName string) (string, string, error) {
	hash := HashBytes(data)
	ext := filepath.Ext(originalName)
	path := filepath.Join(s.root, fullDir, storageName(hash, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write full image: %w", err)
	}
	return path, hash, nil
}

// SaveLabel stores an extracted label crop for a scan, overwriting any
// previous crop so extraction stays re-runnable.
func (s *Store) SaveLabel(img image.Image, scanID string) (string, error) {
	path := filepath.Join(s.root, labelDir, scanID+".png")
	if err := writePNG(path, img); err != nil {
		return "", fmt.Errorf("write label crop: %w", err)
	}
	return path, nil
}

// SaveStitched stores a composite image.
func (s *Store) SaveStitched(img image.Image, stitchedID string) (string, error) {
	path := filepath.Join(s.root, stitchedDir, stitchedID+".png")
	if err := writePNG(path, img); err != nil {
		return "", fmt.Errorf("write stitched composite: %w", err)
	}
	return path, nil
}

// Load opens and decodes a stored image.
func (s *Store) Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	return img, nil
}

// ReadBytes returns the raw bytes of a stored file.
func (s *Store) ReadBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	return data, nil
}

// Remove deletes a stored file best-effort. Failures are logged as
// warnings and never propagated: metadata correctness matters more than
// filesystem tidiness.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to remove image file")
	}
}

// CopyInto copies srcPath into destRoot under destName after confirming the
// destination stays inside destRoot. It returns the destination path.
func CopyInto(destRoot, destName, srcPath string) (string, error) {
	destPath, err := securePath(destRoot, destName)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source image: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create destination image: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", fmt.Errorf("copy image: %w", err)
	}
	return destPath, nil
}

// securePath joins name onto root and rejects results that escape root.
func securePath(root, name string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve storage root: %w", err)
	}
	joined, err := filepath.Abs(filepath.Join(absRoot, name))
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return joined, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
