package log

import (
	"bytes"
	"encoding/json"
	"errors"
	stdlog "log"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, opts ...LoggerOption) Logger {
	base := []LoggerOption{WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(buf))}
	return NewLogger(append(base, opts...)...)
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, WithLevel(WarnLevel))
	l.Info("hidden")
	l.Warn("shown", Int("n", 1))
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestWithFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).With(Component("distributor"), Str("relay", "r1"))
	l.WithError(errors.New("boom")).Error("shard failed")

	var m map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["component"] != "distributor" || m["relay"] != "r1" || m["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "ERROR" {
		t.Fatalf("level = %v", m["level"])
	}
}

func TestSetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer
	parent := newBufferLogger(&buf)
	child := parent.WithComponent("c")
	parent.SetLevel(ErrorLevel)
	child.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, WithRedactedKeys("secret"))
	l.Info("keys", Str("secret", "nsec1..."))
	if strings.Contains(buf.String(), "nsec1") {
		t.Fatalf("secret leaked: %q", buf.String())
	}
}

func TestSampling(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, WithSampling(1, 3))
	for i := 0; i < 7; i++ {
		l.Info("tick")
	}
	// first, then every third after it: indices 0, 1, 4
	if got := strings.Count(buf.String(), "tick"); got != 3 {
		t.Fatalf("sampled lines = %d", got)
	}
}

func TestApplyConfig(t *testing.T) {
	if _, err := ApplyConfig(&Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for bad level")
	}
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for bad format")
	}
	l, err := ApplyConfig(&Config{Level: "debug", Format: "json", Output: "null"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if l.GetLevel() != DebugLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
}

func TestTextFormatter(t *testing.T) {
	f := &TextFormatter{DisableTimestamp: true}
	b, err := f.Format(&Entry{Level: InfoLevel, Message: "hello", Fields: Fields{"b": 2, "a": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != "INFO  hello a=1 b=2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestRedirectStdLog(t *testing.T) {
	var buf bytes.Buffer
	restore := RedirectStdLog(newBufferLogger(&buf))
	stdlog.Print("from std")
	restore()
	if !strings.Contains(buf.String(), "from std") {
		t.Fatalf("std log not captured: %q", buf.String())
	}
}
