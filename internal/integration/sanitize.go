package integration

import (
	"bytes"
	"fmt"
	"os"

	"github.com/valter-silva-au/ralph/internal/storage"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ArtifactSanitizer repairs encoding damage that agents occasionally leave
// in generated markdown.
type ArtifactSanitizer interface {
	// Sanitize rewrites path in place when it needs repair and reports
	// whether it changed anything.
	Sanitize(path string) (bool, error)
}

type artifactSanitizer struct{}

// NewArtifactSanitizer creates an ArtifactSanitizer.
func NewArtifactSanitizer() ArtifactSanitizer {
	return &artifactSanitizer{}
}

func (s *artifactSanitizer) Sanitize(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("sanitizing artifact: %w", err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: artifact path derived from configured output dir
	if err != nil {
		return false, fmt.Errorf("sanitizing artifact: %w", err)
	}

	clean, err := SanitizeText(data)
	if err != nil {
		return false, fmt.Errorf("sanitizing %s: %w", path, err)
	}
	if bytes.Equal(clean, data) {
		return false, nil
	}
	if err := storage.WriteFileAtomic(path, clean, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("rewriting sanitized artifact: %w", err)
	}
	return true, nil
}

// SanitizeText returns data as NFC-normalised UTF-8 with LF line endings.
// UTF-16 input (with a BOM, or little-endian without one) is decoded, a
// UTF-8 BOM and NUL bytes are dropped and invalid sequences become U+FFFD.
func SanitizeText(data []byte) ([]byte, error) {
	var decoder transform.Transformer = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if looksLikeUTF16LE(data) {
		decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	}

	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, fmt.Errorf("decoding text: %w", err)
	}

	out = bytes.ReplaceAll(out, []byte{0}, nil)
	out = bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
	return norm.NFC.Bytes(out), nil
}

// looksLikeUTF16LE reports BOM-less UTF-16LE text, which shows up as ASCII
// interleaved with NUL bytes.
func looksLikeUTF16LE(data []byte) bool {
	if len(data) < 4 || len(data)%2 != 0 {
		return false
	}
	if data[0] == 0xFF && data[1] == 0xFE || data[0] == 0xFE && data[1] == 0xFF {
		return false
	}
	n := len(data)
	if n > 64 {
		n = 64
	}
	for i := 1; i < n; i += 2 {
		if data[i] != 0 || data[i-1] == 0 {
			return false
		}
	}
	return true
}
