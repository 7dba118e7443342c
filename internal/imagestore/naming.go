package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// HashBytes returns the SHA-256 content hash of data as lowercase hex.
// The hash deduplicates uploads: two byte-identical files share one scan.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PublicName builds the human-readable filename embedded in collection
// exports: PSA-scan-YYYYMMDD-<hash8>.<ext>. The date gives collectors a
// recognizable handle; the hash prefix keeps names deduplicatable.
func PublicName(uploadedAt time.Time, imageHash, ext string) string {
	prefix := imageHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("PSA-scan-%s-%s%s", uploadedAt.Format("20060102"), prefix, normalizeExt(ext))
}

// storageName is the collision-free internal filename: the full content
// hash plus extension.
func storageName(imageHash, ext string) string {
	return imageHash + normalizeExt(ext)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}
