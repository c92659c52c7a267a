// Package relay wires the local terminal, the serial channel, the escape
// scanner and the image push engine into one session.
package relay

import (
	"context"
	"fmt"
	"io"

	"github.com/bootline/bootline/internal/conn"
	"github.com/bootline/bootline/internal/escape"
	"github.com/bootline/bootline/internal/trigger"
	"github.com/bootline/bootline/internal/upload"
	"go.uber.org/zap"
)

const localBufferSize = 512

// Session aggregates the per-session state. It is owned and mutated only
// by the relay's event loop; the reader goroutines just deliver bytes.
type Session struct {
	Scanner  *escape.Scanner
	Detector *trigger.Detector
	Request  *upload.Request
}

// Relay shuttles bytes between local input/display and the channel,
// interprets escape commands and serves chainloader boot requests.
type Relay struct {
	channel conn.Channel
	input   io.Reader
	display io.Writer

	session Session
	engine  *upload.Engine
	logger  *zap.Logger

	notify   func(string)
	progress func(upload.Progress)
}

type Option func(*Relay)

// WithUpload arms the session with an image to push when the remote
// device asks for one.
func WithUpload(req *upload.Request, engine *upload.Engine) Option {
	return func(r *Relay) {
		r.session.Request = req
		r.engine = engine
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithNotifier sets the sink for one-line status messages shown to the
// operator (push started, push failed, write errors).
func WithNotifier(f func(string)) Option {
	return func(r *Relay) {
		r.notify = f
	}
}

// WithProgress sets the sink for per-chunk push progress.
func WithProgress(f func(upload.Progress)) Option {
	return func(r *Relay) {
		r.progress = f
	}
}

func New(channel conn.Channel, input io.Reader, display io.Writer, opts ...Option) *Relay {
	r := &Relay{
		channel: channel,
		input:   input,
		display: display,
		session: Session{
			Scanner:  escape.NewScanner(),
			Detector: trigger.New(nil),
		},
		engine: upload.NewEngine(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until the operator types the terminate command, local input
// is exhausted, the context is cancelled, or the channel becomes unusable.
// A clean termination returns nil.
func (r *Relay) Run(ctx context.Context) error {
	localC := make(chan []byte, 1)
	errC := make(chan error, 2)

	go r.readLocal(ctx, localC, errC)

	remoteC := make(chan []byte, 1)
	go r.readRemote(ctx, remoteC, errC)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errC:
			return err
		case buf, ok := <-localC:
			if !ok {
				r.logger.Info("local input closed")
				return nil
			}
			if r.handleLocal(buf) {
				r.logger.Info("session terminated by escape command")
				return nil
			}
		case buf := <-remoteC:
			if err := r.handleRemote(buf); err != nil {
				return err
			}
		}
	}
}

// readLocal delivers locally-typed bytes to the event loop. The channel
// is closed on end of input so the loop can shut down cleanly.
func (r *Relay) readLocal(ctx context.Context, localC chan<- []byte, errC chan<- error) {
	buf := make([]byte, localBufferSize)
	for {
		n, err := r.input.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			select {
			case localC <- out:
			case <-ctx.Done():
				return
			}
		}
		if err == io.EOF {
			close(localC)
			return
		}
		if err != nil {
			select {
			case errC <- fmt.Errorf("reading local input: %w", err):
			case <-ctx.Done():
			}
			return
		}
	}
}

// readRemote polls the channel and delivers remote bytes to the event
// loop. A read error means the link is unusable and ends the session.
func (r *Relay) readRemote(ctx context.Context, remoteC chan<- []byte, errC chan<- error) {
	for {
		b, err := r.channel.Read()
		if err != nil {
			select {
			case errC <- fmt.Errorf("reading channel: %w", err):
			case <-ctx.Done():
			}
			return
		}
		if len(b) == 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		select {
		case remoteC <- b:
		case <-ctx.Done():
			return
		}
	}
}

// handleLocal runs locally-typed bytes through the escape scanner and
// forwards the survivors. It reports whether the session should end. A
// write failure aborts the forward but not the session.
func (r *Relay) handleLocal(buf []byte) (terminate bool) {
	var pending []byte
	for _, b := range buf {
		action := r.session.Scanner.Feed(b)
		switch action.Kind {
		case escape.Forward:
			pending = append(pending, action.Bytes...)
		case escape.Terminate:
			terminate = true
		}
		if terminate {
			break
		}
	}
	if len(pending) > 0 {
		if err := r.channel.Write(pending); err != nil {
			r.logger.Warn("forward failed", zap.Int("bytes", len(pending)), zap.Error(err))
			r.sayf("write to device failed: %v", err)
		}
	}
	return terminate
}

// handleRemote displays remote bytes and checks them for the boot
// request. A display failure ends the session: without a working local
// terminal there is nothing left to relay for.
func (r *Relay) handleRemote(buf []byte) error {
	if _, err := r.display.Write(buf); err != nil {
		return fmt.Errorf("writing to display: %w", err)
	}
	for _, b := range buf {
		if !r.session.Detector.Feed(b) {
			continue
		}
		req := r.session.Request
		if req == nil {
			r.logger.Debug("boot request seen, no image configured")
			continue
		}
		if req.Status != upload.AwaitingTrigger {
			r.logger.Debug("boot request ignored", zap.String("status", req.Status.Name()))
			continue
		}
		r.push(req)
	}
	return nil
}

// push serves one boot request synchronously. The request and the
// detector are re-armed afterwards so the device can ask again after a
// reset, whether this push completed or failed.
func (r *Relay) push(req *upload.Request) {
	r.sayf("sending %s (%d bytes)", req.Path, req.Size)

	progressC := make(chan upload.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressC {
			if r.progress != nil {
				r.progress(p)
			}
		}
	}()

	err := r.engine.Push(req, r.channel, progressC)
	close(progressC)
	<-done

	if err != nil {
		r.sayf("send failed after %d/%d bytes: %v", req.Sent, req.Size, err)
	} else {
		r.sayf("sent %d bytes", req.Sent)
	}

	req.Reset()
	r.session.Detector.Reset()
}

func (r *Relay) sayf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if r.notify != nil {
		r.notify(line)
		return
	}
	fmt.Fprintf(r.display, "\r\n%s\r\n", line)
}
