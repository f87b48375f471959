// Package imagefile holds the user-selected image and the display handle derived from it.
package imagefile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	maxFileSizeMB = 10
	MaxFileSize   = maxFileSizeMB * 1024 * 1024
)

var (
	ErrEmpty    = errors.New("image is empty")
	ErrTooLarge = fmt.Errorf("image exceeds maximum size of %d MB", maxFileSizeMB)
	ErrNotImage = errors.New("file is not an image")
)

// Image is a selected image plus a URI that identifies it for display.
// Data is treated as immutable once the Image is handed to a scan.
type Image struct {
	Name string
	MIME string
	URI  string
	Data []byte
	// Size is len(Data) at construction and survives Release.
	Size int

	shared atomic.Bool
}

// Load reads an image from disk. The file must be an image MIME type.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := FromReader(filepath.Base(path), f)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		img.URI = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// FromReader reads at most MaxFileSize bytes. It does not check the MIME type;
// callers fed by an image-filtered picker skip that step.
func FromReader(name string, r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	return FromBytes(name, data), nil
}

// FromBytes wraps in-memory image data under a mem:// handle.
func FromBytes(name string, data []byte) *Image {
	return &Image{
		Name: name,
		MIME: DetectMIME(name, data),
		URI:  fmt.Sprintf("mem://%s/%s", uuid.NewString(), url.PathEscape(name)),
		Data: data,
		Size: len(data),
	}
}

// DetectMIME sniffs the content first and falls back to the file extension.
func DetectMIME(name string, data []byte) string {
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); IsImageMIME(sniffed) {
			return sniffed
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		mediaType, _, err := mime.ParseMediaType(byExt)
		if err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

func IsImageMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func (i *Image) Validate() error {
	if len(i.Data) == 0 {
		return ErrEmpty
	}
	if len(i.Data) > MaxFileSize {
		return ErrTooLarge
	}
	if !IsImageMIME(i.MIME) {
		return fmt.Errorf("%w: %s (%s)", ErrNotImage, i.Name, i.MIME)
	}
	return nil
}

// Portable returns bytes every engine and renderer accepts: PNG and JPEG pass
// through untouched, anything else is decoded and re-encoded as PNG.
func (i *Image) Portable() ([]byte, string, error) {
	switch i.MIME {
	case "image/png", "image/jpeg":
		return i.Data, i.MIME, nil
	}
	decoded, _, err := image.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", i.Name, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, "", fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func (i *Image) HumanSize() string {
	return humanize.Bytes(uint64(i.Size))
}

// Share marks the image as handed to a recognition call. Shared images are
// never released.
func (i *Image) Share() {
	i.shared.Store(true)
}

// Release drops the image data unless it was shared; the handle is unusable afterwards.
func (i *Image) Release() {
	if i.shared.Load() {
		return
	}
	i.Data = nil
}
