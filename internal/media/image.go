package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedImage is returned for anything that is not a decodable
// png, jpeg or webp data URL
var ErrUnsupportedImage = errors.New("unsupported image")

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Image is a validated chart screenshot
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// ParseDataURL validates a base64 data URL and returns the decoded image.
// The declared type must be allowed and must match the sniffed content.
func ParseDataURL(dataURL string) (*Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return nil, fmt.Errorf("%w: not a data URL", ErrUnsupportedImage)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrUnsupportedImage)
	}

	declared, encoding, _ := strings.Cut(header, ";")
	declared = strings.ToLower(declared)
	if encoding != "base64" {
		return nil, fmt.Errorf("%w: payload must be base64", ErrUnsupportedImage)
	}
	if !allowedTypes[declared] {
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedImage, declared)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedImage)
	}

	sniffed := mimetype.Detect(data)
	if !sniffed.Is(declared) {
		return nil, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedImage, declared, sniffed.String())
	}
	return &Image{MIMEType: declared, Data: data}, nil
}

// FromBytes sniffs raw bytes and wraps them as an Image
func FromBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedImage)
	}
	sniffed := mimetype.Detect(data)
	for t := range allowedTypes {
		if sniffed.Is(t) {
			return &Image{MIMEType: t, Data: data}, nil
		}
	}
	return nil, fmt.Errorf("%w: content is %s", ErrUnsupportedImage, sniffed.String())
}

// DataURL renders the image back to a base64 data URL
func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Base64 returns the bare base64 payload
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}
