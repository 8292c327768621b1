package mimes

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const (
	ImageGIF  = "image/gif"
	ImageJPEG = "image/jpeg"
	ImagePNG  = "image/png"
	ImageWEBP = "image/webp"
)

var (
	ErrNotDataURI = errors.New("not a base64 data uri")
)

// FromFilename maps a file name or URL to an image mimetype by extension.
func FromFilename(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".gif":
		return ImageGIF
	case ".jpg", ".jpeg":
		return ImageJPEG
	case ".png":
		return ImagePNG
	case ".webp":
		return ImageWEBP
	default:
		return ""
	}
}

// FileExtension is the inverse of FromFilename. Unknown types get ".png".
func FileExtension(mimetype string) string {
	switch mimetype {
	case ImageGIF:
		return ".gif"
	case ImageJPEG:
		return ".jpg"
	case ImageWEBP:
		return ".webp"
	default:
		return ".png"
	}
}

// Detect sniffs data, then falls back to the name, then to PNG.
func Detect(data []byte, name string) string {
	if len(data) > 0 {
		sniffed := http.DetectContentType(data)
		if strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	if m := FromFilename(name); m != "" {
		return m
	}
	return ImagePNG
}

// DataURI encodes data as "data:<mimetype>;base64,<payload>".
func DataURI(mimetype string, data []byte) string {
	return "data:" + mimetype + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI. A bare base64 string is accepted
// and reported as PNG.
func ParseDataURI(s string) (string, []byte, error) {
	mimetype := ImagePNG
	payload := s

	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return "", nil, ErrNotDataURI
		}
		if m := strings.TrimSuffix(header, ";base64"); m != "" {
			mimetype = m
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrNotDataURI
	}
	return mimetype, data, nil
}
