// Package images implements Image Intake: decoding, validating, and
// persisting user-submitted images (data-URL/base64 payloads attached to
// a chat turn).
package images

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mesadeayuda/conversa/internal/ids"
)

var (
	// ErrTooLarge is returned when a decoded payload exceeds the configured cap.
	ErrTooLarge = errors.New("images: payload exceeds maximum size")
	// ErrUnsupportedType is returned for a MIME type not in the allow-list.
	ErrUnsupportedType = errors.New("images: unsupported content type")
	// ErrMalformed is returned when the payload isn't a valid, decodable image.
	ErrMalformed = errors.New("images: malformed or corrupt image data")
	// ErrInvalidConversationID guards against path traversal via the caller-supplied ID.
	ErrInvalidConversationID = errors.New("images: invalid conversation id")
)

// allowedTypes maps an accepted MIME type to its magic-byte signature and
// the file extension used when persisting to disk.
var allowedTypes = map[string]struct {
	signature []byte
	ext       string
}{
	"image/jpeg": {signature: []byte{0xFF, 0xD8, 0xFF}, ext: "jpg"},
	"image/png":  {signature: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, ext: "png"},
	"image/gif":  {signature: []byte("GIF8"), ext: "gif"},
	"image/webp": {signature: []byte("RIFF"), ext: "webp"},
}

// Intake persists validated images under a per-conversation directory
// tree rooted at dir.
type Intake struct {
	dir      string
	maxBytes int64
}

// New returns an Intake rooted at dir (typically <data-root>/uploads),
// rejecting any decoded payload larger than maxBytes.
func New(dir string, maxBytes int64) (*Intake, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("images: create dir: %w", err)
	}
	return &Intake{dir: dir, maxBytes: maxBytes}, nil
}

// PathFor returns the on-disk path for a previously stored image,
// without checking that it exists.
func (in *Intake) PathFor(conversationID, filename string) string {
	return filepath.Join(in.dir, conversationID, filename)
}

// Stored describes a successfully persisted image.
type Stored struct {
	Path        string
	ContentType string
	Bytes       int
	Width       int
	Height      int
}

// Accept decodes a data URL (e.g. "data:image/png;base64,...."), validates
// it structurally, and persists it under <dir>/<conversationID>/.
func (in *Intake) Accept(conversationID, dataURL string) (*Stored, error) {
	if !ids.Valid(conversationID) {
		return nil, ErrInvalidConversationID
	}

	mimeType, raw, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}

	spec, ok := allowedTypes[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	if in.maxBytes > 0 && int64(len(raw)) > in.maxBytes {
		return nil, ErrTooLarge
	}
	if !bytes.HasPrefix(raw, spec.signature) {
		return nil, fmt.Errorf("%w: magic bytes do not match %s", ErrMalformed, mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	convDir := filepath.Join(in.dir, conversationID)
	if err := os.MkdirAll(convDir, 0o755); err != nil {
		return nil, fmt.Errorf("images: create conversation dir: %w", err)
	}

	name, err := randomFilename(spec.ext)
	if err != nil {
		return nil, fmt.Errorf("images: generate filename: %w", err)
	}
	path := filepath.Join(convDir, name)

	if err := writeAtomic(path, raw); err != nil {
		return nil, fmt.Errorf("images: persist: %w", err)
	}

	bounds := img.Bounds()
	return &Stored{
		Path:        path,
		ContentType: mimeType,
		Bytes:       len(raw),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// decodeDataURL splits a "data:<mime>;base64,<payload>" string and
// base64-decodes the payload.
func decodeDataURL(dataURL string) (mimeType string, raw []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", nil, fmt.Errorf("%w: missing data: scheme", ErrMalformed)
	}
	rest := dataURL[len(prefix):]

	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("%w: missing comma separator", ErrMalformed)
	}
	meta, payload := rest[:comma], rest[comma+1:]

	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: only base64 data URLs are supported", ErrMalformed)
	}
	mimeType = strings.TrimSuffix(meta, ";base64")

	raw, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformed, err)
	}
	return mimeType, raw, nil
}

func randomFilename(ext string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%08x.%s", time.Now().UTC().UnixNano(), n.Int64(), ext), nil
}

// writeAtomic writes data to path via write-temp-then-rename, matching
// the discipline used throughout this repository's storage layer.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "upload-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
