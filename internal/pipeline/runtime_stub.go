//go:build !govips || !cgo

package pipeline

// Startup and Shutdown are no-ops for the pure-Go codec.
func Startup() error {
	return nil
}

func Shutdown() {}

func NewTransformer() Transformer {
	return stdlibTransformer{}
}

func CodecName() string {
	return "imaging"
}
