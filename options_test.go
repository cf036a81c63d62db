package helpdesk

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrepareOpts_Defaults(t *testing.T) {
	opts := prepareOpts(Config{})
	if opts.Logger == nil || opts.Msgs == nil {
		t.Fatalf("expected default logger and messages")
	}
	if opts.Store != nil || opts.Provider != nil || opts.Registry != nil || opts.Journal != nil {
		t.Fatalf("expected optional dependencies to stay empty")
	}
}

func TestPrepareOpts_With(t *testing.T) {
	store := NewMemoryStore()
	provider := newFakeProvider()
	msgs := newDefaultMessageProvider()
	registry := prometheus.NewRegistry()
	journal := new(MockJournal)

	opts := prepareOpts(Config{},
		WithStore(store),
		WithProvider(provider),
		WithMsgs(msgs),
		WithLogger(NoopLogger{}),
		WithMetrics(registry),
		WithJournal(journal),
	)
	if opts.Store != store || opts.Provider != provider || opts.Msgs != msgs {
		t.Fatalf("options were not applied")
	}
	if _, ok := opts.Logger.(NoopLogger); !ok {
		t.Fatalf("expected NoopLogger, got %T", opts.Logger)
	}
	if opts.Registry != registry || opts.Journal != journal {
		t.Fatalf("options were not applied")
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := orNoop(nil).(NoopLogger); !ok {
		t.Fatalf("expected NoopLogger for nil")
	}
	log := new(MockLogger)
	if orNoop(log) != log {
		t.Fatalf("expected the same logger")
	}
}

func TestMaxLen(t *testing.T) {
	cases := []struct {
		in  string
		max int
		exp string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"привет", 6, "привет"},
		{"привет", 3, "при"},
		{"", 0, ""},
	}
	for _, c := range cases {
		if got := maxLen(c.in, c.max); got != c.exp {
			t.Fatalf("maxLen(%q, %d) = %q, want %q", c.in, c.max, got, c.exp)
		}
	}
}
