package display

import (
	"os"
	"time"

	"github.com/bnema/waydisplay/internal/bridge"
)

// Default values used when no option overrides them.
const (
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultFormat          = bridge.RGBx
	DefaultFramerate       = 60
	DefaultQueueCapacity   = 1
	DefaultShutdownTimeout = 5 * time.Second
	DefaultInitTimeout     = 10 * time.Second
)

type options struct {
	runtimeDir      string
	socketPrefix    string
	caps            VideoInfo
	queueCapacity   int
	blockProducer   bool
	inputBacklog    int
	shutdownTimeout time.Duration
	initTimeout     time.Duration
	healthCheck     func() error
}

func defaultOptions() options {
	return options{
		runtimeDir: os.Getenv("XDG_RUNTIME_DIR"),
		caps: VideoInfo{
			Width:        DefaultWidth,
			Height:       DefaultHeight,
			Format:       DefaultFormat,
			FramerateNum: DefaultFramerate,
			FramerateDen: 1,
		},
		queueCapacity:   DefaultQueueCapacity,
		shutdownTimeout: DefaultShutdownTimeout,
		initTimeout:     DefaultInitTimeout,
	}
}

// Option customizes Init.
type Option func(*options)

// WithRuntimeDir places the display socket in dir instead of
// $XDG_RUNTIME_DIR.
func WithRuntimeDir(dir string) Option {
	return func(o *options) { o.runtimeDir = dir }
}

// WithSocketPrefix changes the socket name prefix, "wayland" by default.
func WithSocketPrefix(prefix string) Option {
	return func(o *options) { o.socketPrefix = prefix }
}

// WithVideoInfo sets the caps frames are produced in until SetVideoInfo.
func WithVideoInfo(info VideoInfo) Option {
	return func(o *options) { o.caps = info }
}

// WithQueue sets the frame queue capacity and whether a full queue blocks
// the compositor instead of dropping the oldest frame.
func WithQueue(capacity int, blockProducer bool) Option {
	return func(o *options) {
		o.queueCapacity = capacity
		o.blockProducer = blockProducer
	}
}

// WithInputBacklog sets how many input frames may wait for the loop.
func WithInputBacklog(n int) Option {
	return func(o *options) { o.inputBacklog = n }
}

// WithShutdownTimeout bounds how long Finish waits for the compositor to
// release its resources. Exceeding it leaves the display in ErrorStopped.
// Zero or less waits indefinitely.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithInitTimeout bounds how long Init waits for the first frame. Zero or
// less waits indefinitely.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) { o.initTimeout = d }
}

// WithHealthCheck ties the display to an external resource. fn runs on the
// compositor thread before every frame, so a slow check stalls frames and
// shutdown alike. An error stops the display as a fatal runtime error.
func WithHealthCheck(fn func() error) Option {
	return func(o *options) { o.healthCheck = fn }
}
