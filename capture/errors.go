package capture

import (
	"deckcap/queue"

	"github.com/pkg/errors"
)

var (
	ErrDeviceNotFound = errors.New("capture device not found")
	ErrDeviceBusy     = errors.New("capture device already in use")
	ErrStreamStart    = errors.New("failed to start streams")
	ErrEnableInput    = errors.New("failed to enable input")
	ErrNotNegotiated  = errors.New("captured format does not match the configured format")
	ErrNoAutoDetect   = errors.New("device cannot detect the input format")
	ErrFormatMismatch = errors.New("detected format does not match the configured format")
	ErrUnsupported    = errors.New("detected input format is not supported")
	ErrNotOpened      = errors.New("session is not opened")
	ErrInvalidOption  = errors.New("invalid option")

	// ErrFlushing is returned by Create while the session is unlocked or
	// stopped.
	ErrFlushing = queue.ErrFlushing
)
