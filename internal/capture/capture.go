// Package capture defines the external capture-adapter contract (spec.md
// 4.1) and the stats the adapter and processor share.
package capture

import (
	"github.com/user/koe/internal/koetypes"
)

// Adapter delivers timestamped float32 PCM frames per source stream via a
// non-blocking callback that the adapter drives internally. Concrete
// adapters (a platform audio SDK, or the oggcapture fixture player used in
// this repo) own their capture thread and must never allocate, lock, or
// block while writing into the caller-provided rings.
type Adapter interface {
	// Start begins delivering frames. It may fail with a *koetypes.CaptureError.
	Start() error
	// Stop halts delivery. It is infallible and may be called once.
	Stop()
	// TryRecvSystem returns at most one frame from the system stream,
	// or ok=false if none is currently available.
	TryRecvSystem() (frame koetypes.AudioFrame, ok bool)
	// TryRecvMic returns at most one frame from the microphone stream,
	// or ok=false if none is currently available.
	TryRecvMic() (frame koetypes.AudioFrame, ok bool)
}
