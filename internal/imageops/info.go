package imageops

import (
	"bytes"
	"image"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Info describes an encoded image buffer.
type Info struct {
	MIME      string `json:"mime"`
	Extension string `json:"extension"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Describe sniffs the container format of buf. Dimensions are filled in
// when a registered decoder understands the format.
func Describe(buf []byte) Info {
	mt := mimetype.Detect(buf)
	info := Info{
		MIME:      mt.String(),
		Extension: strings.TrimPrefix(mt.Extension(), "."),
	}
	if info.Extension == "jpg" {
		info.Extension = "jpeg"
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(buf)); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
	}
	return info
}

// DecodableTypes lists the upload MIME types the active backend can decode.
func DecodableTypes() []string {
	return append([]string(nil), decodableTypes...)
}

// Decodable sniffs buf and reports its MIME type and whether the active
// backend accepts it as input.
func Decodable(buf []byte) (string, bool) {
	mt := mimetype.Detect(buf)
	for _, accepted := range decodableTypes {
		if mt.Is(accepted) {
			return mt.String(), true
		}
	}
	return mt.String(), false
}
