package camera

import "context"

type Image struct {
	Body   []byte
	Format string
	Name   string // file name reported by the camera
}

// Driver is the minimal surface a remote-controlled camera exposes to integrations.
type Driver interface {
	// ExtractImage triggers the shutter and returns the resulting image.
	ExtractImage(ctx context.Context) (*Image, error)
	Ping(ctx context.Context) bool
}
