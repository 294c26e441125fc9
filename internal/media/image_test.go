package media

import (
	"encoding/base64"
	"errors"
	"testing"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 32)...)
	webpBytes = append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), make([]byte, 32)...)
	gifBytes  = append([]byte("GIF89a"), make([]byte, 32)...)
)

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestParseDataURLAccepted(t *testing.T) {
	tests := []struct {
		name string
		mime string
		data []byte
	}{
		{"png", "image/png", pngBytes},
		{"jpeg", "image/jpeg", jpegBytes},
		{"webp", "image/webp", webpBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ParseDataURL(dataURL(tt.mime, tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if img.MIMEType != tt.mime {
				t.Errorf("Expected %s, got %s", tt.mime, img.MIMEType)
			}
			if img.DataURL() != dataURL(tt.mime, tt.data) {
				t.Error("DataURL did not round-trip")
			}
		})
	}
}

func TestParseDataURLRejected(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a data URL", "https://example.com/chart.png"},
		{"gif", dataURL("image/gif", gifBytes)},
		{"declared png but gif content", dataURL("image/png", gifBytes)},
		{"bad base64", "data:image/png;base64,@@@"},
		{"not base64 encoded", "data:image/png,rawbytes"},
		{"empty payload", "data:image/png;base64,"},
		{"missing comma", "data:image/png;base64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataURL(tt.input)
			if !errors.Is(err, ErrUnsupportedImage) {
				t.Errorf("Expected ErrUnsupportedImage, got %v", err)
			}
		})
	}
}

func TestFromBytes(t *testing.T) {
	img, err := FromBytes(jpegBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", img.MIMEType)
	}

	if _, err := FromBytes([]byte("plain text")); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Expected ErrUnsupportedImage, got %v", err)
	}
}
