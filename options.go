package helpdesk

import (
	"log/slog"
	"os"

	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxTextLenInLogs is the maximum length of a message text in logs.
const MaxTextLenInLogs = 64

type (
	// Logger is an interface for logging messages.
	Logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	// Options contains helpdesk additional options. Everything is optional.
	Options struct {
		// Store is a key-value storage for tickets, links and counters.
		// It is created from Config.Storage by default.
		Store KeyValueStore

		// Provider is a messaging channel. It uses Telegram by default.
		// Set it to run the service without a real bot, e.g. in tests.
		Provider ChannelProvider

		// Msgs is a message provider. It uses default English and Russian messages by default.
		Msgs MessageProvider

		// Logger is a logger. It uses slog JSON logger by default.
		Logger Logger

		// Registry is a Prometheus registerer. Metrics are disabled if it is nil.
		Registry prometheus.Registerer

		// Journal receives ticket events in addition to the journals from Config.
		Journal Journal
	}
)

// WithStore returns an option that sets the key-value storage.
func WithStore(store KeyValueStore) func(opts *Options) {
	return func(opts *Options) {
		opts.Store = store
	}
}

// WithProvider returns an option that sets the channel provider.
func WithProvider(p ChannelProvider) func(opts *Options) {
	return func(opts *Options) {
		opts.Provider = p
	}
}

// WithMsgs returns an option that sets the message provider.
func WithMsgs(msgs MessageProvider) func(opts *Options) {
	return func(opts *Options) {
		opts.Msgs = msgs
	}
}

// WithLogger returns an option that sets the logger.
func WithLogger(logger Logger) func(opts *Options) {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics returns an option that enables metrics in the provided registry.
func WithMetrics(registry prometheus.Registerer) func(opts *Options) {
	return func(opts *Options) {
		opts.Registry = registry
	}
}

// WithJournal returns an option that adds a ticket journal.
func WithJournal(j Journal) func(opts *Options) {
	return func(opts *Options) {
		opts.Journal = j
	}
}

func prepareOpts(cfg Config, optsFuncs ...func(*Options)) Options {
	var opts Options
	for _, f := range optsFuncs {
		f(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: lang.If(cfg.Debug, slog.LevelDebug, slog.LevelInfo),
		}))
	}
	if opts.Msgs == nil {
		opts.Msgs = newDefaultMessageProvider()
	}
	return opts
}

// NoopLogger is a Logger that discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

func orNoop(log Logger) Logger {
	if log == nil {
		return NoopLogger{}
	}
	return log
}

func maxLen(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
