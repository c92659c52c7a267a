package relay_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bootline/bootline/internal/relay"
	"github.com/bootline/bootline/internal/upload"
	"github.com/stretchr/testify/assert"
)

// scriptChannel plays back scripted remote reads and records writes. Safe
// for use from the relay goroutines.
type scriptChannel struct {
	mu       sync.Mutex
	reads    [][]byte
	writes   [][]byte
	writeErr error
}

func (c *scriptChannel) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		// Emulate the serial poll timeout.
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return b, nil
}

func (c *scriptChannel) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *scriptChannel) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, w := range c.writes {
		out = append(out, w...)
	}
	return out
}

func (c *scriptChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// blockedReader is local input on which nothing is ever typed.
type blockedReader struct {
	unblock chan struct{}
}

func (b *blockedReader) Read(p []byte) (int, error) {
	<-b.unblock
	return 0, io.EOF
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineCollector) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *lineCollector) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func TestRunTerminatesOnEscape(t *testing.T) {
	ch := &scriptChannel{}
	display := &safeBuffer{}
	r := relay.New(ch, strings.NewReader("hi\r~."), display)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Equal(t, "hi\r", string(ch.written()))
}

func TestRunEndsOnLocalEOF(t *testing.T) {
	ch := &scriptChannel{}
	r := relay.New(ch, strings.NewReader("hello\r"), &safeBuffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Equal(t, "hello\r", string(ch.written()))
}

func TestRunDisplaysRemoteBytes(t *testing.T) {
	ch := &scriptChannel{reads: [][]byte{[]byte("remote console output")}}
	display := &safeBuffer{}
	input := &blockedReader{unblock: make(chan struct{})}
	r := relay.New(ch, input, display)

	ctx, cancel := context.WithCancel(context.Background())
	runC := make(chan error, 1)
	go func() { runC <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(display.String(), "remote console output")
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runC, context.Canceled)
	close(input.unblock)
}

func TestRunServesBootRequest(t *testing.T) {
	content := []byte("tiny kernel image payload")
	path := filepath.Join(t.TempDir(), "kernel.img")
	assert.NoError(t, os.WriteFile(path, content, 0o644))

	req, err := upload.New(path)
	assert.NoError(t, err)

	ch := &scriptChannel{reads: [][]byte{
		[]byte("chainloader ready\r\n"),
		{0x03, 0x03},
		{0x03},
	}}
	display := &safeBuffer{}
	notes := &lineCollector{}
	input := &blockedReader{unblock: make(chan struct{})}

	engine := upload.NewEngine(upload.WithChunkSize(8))
	r := relay.New(ch, input, display,
		relay.WithUpload(req, engine),
		relay.WithNotifier(notes.add),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runC := make(chan error, 1)
	go func() { runC <- r.Run(ctx) }()

	wantWrites := 1 + (len(content)+7)/8 // header + chunks
	assert.Eventually(t, func() bool {
		return ch.writeCount() == wantWrites
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runC, context.Canceled)
	close(input.unblock)

	written := ch.written()
	assert.Equal(t, uint32(len(content)), binary.LittleEndian.Uint32(written[:upload.HeaderSize]))
	assert.Equal(t, content, written[upload.HeaderSize:])

	// The signature bytes still reach the display alongside console output.
	assert.Contains(t, display.String(), "chainloader ready")
	assert.Contains(t, display.String(), "\x03\x03\x03")

	assert.Contains(t, notes.joined(), "sending")
	assert.Contains(t, notes.joined(), "sent")

	// The request is re-armed for the device's next boot request.
	assert.Equal(t, upload.AwaitingTrigger, req.Status)
}

func TestRunServesRepeatedBootRequests(t *testing.T) {
	content := []byte("img")
	path := filepath.Join(t.TempDir(), "kernel.img")
	assert.NoError(t, os.WriteFile(path, content, 0o644))

	req, err := upload.New(path)
	assert.NoError(t, err)

	ch := &scriptChannel{reads: [][]byte{
		{0x03, 0x03, 0x03},
		{0x03, 0x03, 0x03},
	}}
	input := &blockedReader{unblock: make(chan struct{})}
	r := relay.New(ch, input, &safeBuffer{},
		relay.WithUpload(req, upload.NewEngine()),
		relay.WithNotifier(func(string) {}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runC := make(chan error, 1)
	go func() { runC <- r.Run(ctx) }()

	// Two pushes, each a header and a single chunk.
	assert.Eventually(t, func() bool {
		return ch.writeCount() == 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runC, context.Canceled)
	close(input.unblock)
}

func TestRunContinuesAfterForwardError(t *testing.T) {
	ch := &scriptChannel{writeErr: errors.New("write refused")}
	notes := &lineCollector{}
	r := relay.New(ch, strings.NewReader("a\r~."), &safeBuffer{},
		relay.WithNotifier(notes.add),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The forward fails but the session still terminates cleanly via the
	// escape command.
	assert.NoError(t, r.Run(ctx))
	assert.Contains(t, notes.joined(), "write to device failed")
}
