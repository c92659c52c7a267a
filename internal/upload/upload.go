// Package upload implements the chainloader image push: a fixed-width
// length header followed by the image payload in bounded chunks.
package upload

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/bootline/bootline/internal/conn"
	"go.uber.org/zap"
)

// HeaderSize is the width of the length field announced to the
// chainloader before the payload, little-endian per its protocol.
const HeaderSize = 4

// DefaultChunkSize bounds a single channel write. Sized for serial
// throughput rather than pushing the whole image in one write.
const DefaultChunkSize = 512

// ErrNotAwaiting is returned when a push is attempted on a request that is
// not waiting for a trigger, e.g. one that already completed.
var ErrNotAwaiting = errors.New("request is not awaiting a trigger")

// Status tracks a request through the push protocol.
type Status int

const (
	AwaitingTrigger Status = iota // armed, waiting for the boot request
	SendingHeader                 // length header going out
	SendingBody                   // payload chunks going out
	Completed                     // all bytes delivered
	Failed                        // push aborted, see Request.Err
)

func (s Status) Name() string {
	switch s {
	case AwaitingTrigger:
		return "AwaitingTrigger"
	case SendingHeader:
		return "SendingHeader"
	case SendingBody:
		return "SendingBody"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return ""
	}
}

// Request represents one pending or in-flight image push.
type Request struct {
	Path   string
	Size   int64
	Sent   int64
	Status Status
	Err    error
}

// New stats the image file up front so an unreadable file surfaces before
// any trigger is armed.
func New(path string) (*Request, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image %s is a directory", path)
	}
	if info.Size() > math.MaxUint32 {
		return nil, fmt.Errorf("image %s exceeds the %d-byte header range", path, HeaderSize)
	}
	return &Request{Path: path, Size: info.Size(), Status: AwaitingTrigger}, nil
}

// Reset re-arms a request so a later trigger restarts the push.
func (r *Request) Reset() {
	r.Sent = 0
	r.Status = AwaitingTrigger
	r.Err = nil
}

// Progress reports how far a push has come.
type Progress struct {
	Sent  int64
	Total int64
}

// Engine executes image pushes over a channel.
type Engine struct {
	chunkSize int
	logger    *zap.Logger
}

type Option func(*Engine)

func WithChunkSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		chunkSize: DefaultChunkSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Push runs one transfer synchronously: header, then payload chunks. Any
// write error fails the request immediately, no retry, no further writes.
// Progress is emitted after each chunk on the optional channel.
func (e *Engine) Push(req *Request, ch conn.Channel, msgs ...chan Progress) error {
	if req.Status != AwaitingTrigger {
		return ErrNotAwaiting
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return e.fail(req, fmt.Errorf("opening image: %w", err))
	}
	defer f.Close()

	e.logger.Info("starting image push",
		zap.String("path", req.Path),
		zap.Int64("size", req.Size),
		zap.Int("chunk_size", e.chunkSize),
	)

	req.Status = SendingHeader
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(req.Size))
	if err := ch.Write(header[:]); err != nil {
		return e.fail(req, fmt.Errorf("writing length header: %w", err))
	}

	req.Status = SendingBody
	reader := bufio.NewReader(f)
	buffer := make([]byte, e.chunkSize)
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			if werr := ch.Write(buffer[:n]); werr != nil {
				return e.fail(req, fmt.Errorf("writing payload at byte %d: %w", req.Sent, werr))
			}
			req.Sent += int64(n)
			if len(msgs) > 0 {
				msgs[0] <- Progress{Sent: req.Sent, Total: req.Size}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.fail(req, fmt.Errorf("reading image at byte %d: %w", req.Sent, err))
		}
	}

	req.Status = Completed
	e.logger.Info("image push completed", zap.Int64("bytes", req.Sent))
	return nil
}

func (e *Engine) fail(req *Request, err error) error {
	req.Status = Failed
	req.Err = err
	e.logger.Error("image push failed", zap.Int64("sent", req.Sent), zap.Error(err))
	return err
}
