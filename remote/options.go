package remote

import (
	"errors"
	"time"

	"github.com/arloliu/go-msbridge/logger"
)

const (
	// DefaultReplyTimeout bounds the wait for the answer to a client request.
	DefaultReplyTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single websocket write.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultEventQueueSize is the number of events buffered before the client read loop blocks.
	DefaultEventQueueSize = 16
)

type serverConfig struct {
	writeTimeout time.Duration
	logger       logger.Logger
}

type clientConfig struct {
	replyTimeout   time.Duration
	writeTimeout   time.Duration
	eventQueueSize int
	logger         logger.Logger
}

// ServerOption represents a functional option for configuring a Server.
type ServerOption interface {
	applyServer(*serverConfig) error
}

// ClientOption represents a functional option for configuring a Client.
type ClientOption interface {
	applyClient(*clientConfig) error
}

type serverOptFunc func(*serverConfig) error

func (f serverOptFunc) applyServer(cfg *serverConfig) error { return f(cfg) }

type clientOptFunc func(*clientConfig) error

func (f clientOptFunc) applyClient(cfg *clientConfig) error { return f(cfg) }

// loggerOption configures both sides.
type loggerOption struct {
	l logger.Logger
}

func (o loggerOption) applyServer(cfg *serverConfig) error {
	if o.l == nil {
		return errors.New("logger is nil")
	}
	cfg.logger = o.l

	return nil
}

func (o loggerOption) applyClient(cfg *clientConfig) error {
	if o.l == nil {
		return errors.New("logger is nil")
	}
	cfg.logger = o.l

	return nil
}

// LoggerOption is accepted by both NewServer and Dial.
type LoggerOption interface {
	ServerOption
	ClientOption
}

// WithLogger sets the logger of a Server or Client. The default logger is the global logger instance.
func WithLogger(l logger.Logger) LoggerOption {
	return loggerOption{l: l}
}

// WithWriteTimeout sets the deadline of a single websocket write on the server.
//
// The timeout should be between 100 milliseconds and 1 minute. The default value is 5 seconds.
func WithWriteTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *serverConfig) error {
		if d < 100*time.Millisecond || d > time.Minute {
			return errors.New("write timeout out of range [100ms, 1m]")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithReplyTimeout sets how long the client waits for the answer to a request.
//
// The timeout should be between 10 milliseconds and 2 minutes. The default value is 10 seconds.
func WithReplyTimeout(d time.Duration) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		if d < 10*time.Millisecond || d > 2*time.Minute {
			return errors.New("reply timeout out of range [10ms, 2m]")
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithEventQueueSize sets the number of instrument events the client buffers before its read
// loop waits for event handlers to catch up.
//
// The size must be within the range of 1 to 1000. The default value is 16.
func WithEventQueueSize(size int) ClientOption {
	return clientOptFunc(func(cfg *clientConfig) error {
		if size < 1 || size > 1000 {
			return errors.New("the event queue size out of range [1, 1000]")
		}
		cfg.eventQueueSize = size

		return nil
	})
}
