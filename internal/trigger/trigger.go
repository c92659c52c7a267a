// trigger.go watches the byte stream coming from the remote device for the
// chainloader's in-band boot request.
package trigger

import "bytes"

// BootRequest is the signature a freshly reset chainloader emits on the
// serial line when it is ready to receive an image: three break characters.
var BootRequest = []byte{0x03, 0x03, 0x03}

// Detector recognizes a fixed byte signature anywhere in the incoming
// stream. It only observes bytes, it never withholds them from display,
// since the signature shares the line with ordinary console output.
type Detector struct {
	signature []byte
	window    []byte
}

// New returns a detector for the given signature. An empty signature
// selects the default chainloader boot request.
func New(signature []byte) *Detector {
	if len(signature) == 0 {
		signature = BootRequest
	}
	return &Detector{
		signature: signature,
		window:    make([]byte, 0, len(signature)),
	}
}

// Feed observes a single byte and reports whether it completes the
// signature. The match is rolling: a partial match that diverges falls
// back cleanly, and signatures split across reads are still recognized.
// After firing, matching starts over from scratch.
func (d *Detector) Feed(b byte) bool {
	if len(d.window) == len(d.signature) {
		copy(d.window, d.window[1:])
		d.window[len(d.window)-1] = b
	} else {
		d.window = append(d.window, b)
	}
	if bytes.Equal(d.window, d.signature) {
		d.window = d.window[:0]
		return true
	}
	return false
}

// Reset discards any partial match, e.g. after an image push during which
// the detector was not consulted.
func (d *Detector) Reset() {
	d.window = d.window[:0]
}
