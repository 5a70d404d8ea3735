// Package media prepares chat attachments for vision models: MIME detection
// from magic bytes, downscaling to provider limits, data URL encoding and
// on-disk storage of uploads.
package media

import (
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Defaults sized for the strictest common vision limits.
const (
	DefaultMaxDimension = 1568            // longest side in pixels
	DefaultMaxBytes     = 5 * 1024 * 1024 // encoded size
	MinQuality          = 35              // lowest JPEG quality tried
	MaxQuality          = 85              // first JPEG quality tried
)

// SupportedMIMETypes are the image types every vision provider accepts.
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageData is an image ready to send to a model.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Base64 returns the image data as a base64-encoded string
func (img *ImageData) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURL returns the image as a data: URL.
func (img *ImageData) DataURL() string {
	return "data:" + img.MimeType + ";base64," + img.Base64()
}

// DetectMIME returns the MIME type from magic bytes, without parameters.
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}

// IsSupported returns true if the MIME type is a supported image type
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}

// IsImage reports whether a declared MIME type or file name looks like an image.
func IsImage(mimeType, fileName string) bool {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return true
	}
	return strings.HasPrefix(mimeFromExtension(fileName), "image/")
}

// mimeFromExtension returns MIME type based on file extension.
func mimeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	default:
		return ""
	}
}

// ExtensionFor returns a file extension for a MIME type, including the dot.
func ExtensionFor(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ".bin"
}
