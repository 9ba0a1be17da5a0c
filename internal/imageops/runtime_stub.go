//go:build !govips || !cgo

package imageops

func Startup() error {
	return nil
}

func Shutdown() {}

const BackendName = "imaging"

// image.Decode has no AVIF decoder.
var decodableTypes = []string{"image/jpeg", "image/png", "image/webp", "image/tiff"}

func NewBackend() Backend {
	return imagingBackend{}
}
