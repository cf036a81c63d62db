package main

import (
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		l := newLogger(debug)
		if l == nil {
			t.Fatalf("debug=%v: nil logger", debug)
		}
		l.Debug("debug message", "user_id", 1)
		l.Info("info message")
		l.Warn("warn message", "thread_id", 2)
		l.Error("error message", "error", errors.New("boom"), "ticket_no", 3)
		l.Error("error without error field", "ticket_no", 3)
	}
}
