package trigger_test

import (
	"testing"

	"github.com/bootline/bootline/internal/trigger"
	"github.com/stretchr/testify/assert"
)

// feedAll feeds the bytes one by one and returns the indices at which the
// detector fired.
func feedAll(d *trigger.Detector, input []byte) []int {
	var fired []int
	for i, b := range input {
		if d.Feed(b) {
			fired = append(fired, i)
		}
	}
	return fired
}

func TestDetector(t *testing.T) {
	t.Run("full signature fires once", func(t *testing.T) {
		d := trigger.New(nil)
		fired := feedAll(d, []byte{0x03, 0x03, 0x03})
		assert.Equal(t, []int{2}, fired)
	})

	t.Run("signature embedded in console output", func(t *testing.T) {
		d := trigger.New(nil)
		input := append([]byte("booting...\r\n"), 0x03, 0x03, 0x03)
		fired := feedAll(d, input)
		assert.Equal(t, []int{len(input) - 1}, fired)
	})

	t.Run("signature split across reads", func(t *testing.T) {
		d := trigger.New(nil)
		assert.False(t, d.Feed(0x03))
		assert.False(t, d.Feed(0x03))
		// Simulates the next read call delivering the final byte.
		assert.True(t, d.Feed(0x03))
	})

	t.Run("partial match then divergence resets cleanly", func(t *testing.T) {
		d := trigger.New(nil)
		fired := feedAll(d, []byte{0x03, 0x03, 'x', 0x03, 0x03, 0x03})
		assert.Equal(t, []int{5}, fired)
	})

	t.Run("prefix alone never fires", func(t *testing.T) {
		d := trigger.New(nil)
		fired := feedAll(d, []byte{0x03, 0x03, 'a', 0x03, 'b', 0x03, 0x03})
		assert.Empty(t, fired)
	})

	t.Run("matching restarts after firing", func(t *testing.T) {
		d := trigger.New(nil)
		fired := feedAll(d, []byte{0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03})
		assert.Equal(t, []int{2, 5}, fired)
	})

	t.Run("custom signature with repeated prefix", func(t *testing.T) {
		d := trigger.New([]byte("aab"))
		fired := feedAll(d, []byte("aaab"))
		assert.Equal(t, []int{3}, fired)
	})

	t.Run("reset discards partial match", func(t *testing.T) {
		d := trigger.New(nil)
		assert.False(t, d.Feed(0x03))
		assert.False(t, d.Feed(0x03))
		d.Reset()
		assert.False(t, d.Feed(0x03))
	})
}
