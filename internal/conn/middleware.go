package conn

import "go.uber.org/zap"

// logging decorates a Channel with debug logging of the traffic in both
// directions. The session display stays untouched; the log goes to the
// verbose log file.
type logging struct {
	ch     Channel
	logger *zap.Logger
}

// WithLogging wraps a Channel so that traffic and I/O errors are logged.
func WithLogging(ch Channel, logger *zap.Logger) Channel {
	return &logging{ch: ch, logger: logger}
}

func (l *logging) Read() ([]byte, error) {
	b, err := l.ch.Read()
	if err != nil {
		l.logger.Error("channel read failed", zap.Error(err))
		return nil, err
	}
	if len(b) > 0 {
		l.logger.Debug("channel read", zap.Int("bytes", len(b)))
	}
	return b, nil
}

func (l *logging) Write(b []byte) error {
	if err := l.ch.Write(b); err != nil {
		l.logger.Error("channel write failed", zap.Int("bytes", len(b)), zap.Error(err))
		return err
	}
	l.logger.Debug("channel write", zap.Int("bytes", len(b)))
	return nil
}
