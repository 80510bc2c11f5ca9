package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestMockEngine_Deterministic(t *testing.T) {
	m := NewMockEngine(1000)
	req := Request{Text: strings.Repeat("a", 50), Index: 2}

	a, rate, err := m.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, _, _ := m.Synthesize(context.Background(), req)

	if rate != 1000 {
		t.Errorf("rate = %d, want 1000", rate)
	}
	if len(a) != 500 {
		t.Fatalf("expected 500 samples for 50 chars at 10ms/char, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs between calls", i)
		}
	}
	if got := len(m.Calls()); got != 2 {
		t.Errorf("expected 2 recorded calls, got %d", got)
	}
}

func TestMockEngine_FailAndDelay(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockEngine(1000)
	m.Fail = map[int]error{1: boom}
	m.Delays = map[int]time.Duration{2: time.Hour}

	if _, _, err := m.Synthesize(context.Background(), Request{Text: "x", Index: 1}); !errors.Is(err, boom) {
		t.Errorf("expected configured failure, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := m.Synthesize(ctx, Request{Text: "x", Index: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSynthesisError(t *testing.T) {
	cause := errors.New("network down")
	var err error = &SynthesisError{Index: 3, Engine: "edge", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("SynthesisError should unwrap to its cause")
	}
	var se *SynthesisError
	if !errors.As(err, &se) || se.Index != 3 {
		t.Errorf("errors.As failed: %v", err)
	}
	if !strings.Contains(err.Error(), "edge") || !strings.Contains(err.Error(), "3") {
		t.Errorf("message should mention engine and index: %q", err.Error())
	}
}

func TestFallback(t *testing.T) {
	first := NewMockEngine(1000)
	first.Fail = map[int]error{0: errors.New("primary down")}
	second := NewMockEngine(2000)

	f, err := NewFallback(first, second)
	if err != nil {
		t.Fatalf("NewFallback: %v", err)
	}
	if f.Name() != "mock>mock" {
		t.Errorf("Name = %q", f.Name())
	}

	_, rate, err := f.Synthesize(context.Background(), Request{Text: "hello", Index: 0})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 2000 {
		t.Errorf("expected secondary engine output, got rate %d", rate)
	}

	_, rate, err = f.Synthesize(context.Background(), Request{Text: "hello", Index: 1})
	if err != nil || rate != 1000 {
		t.Errorf("primary should serve index 1: rate=%d err=%v", rate, err)
	}
	if len(second.Calls()) != 1 {
		t.Errorf("secondary should only be called once, got %d", len(second.Calls()))
	}
}

func TestFallback_AllFail(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	a, b := NewMockEngine(1000), NewMockEngine(1000)
	a.Fail = map[int]error{0: e1}
	b.Fail = map[int]error{0: e2}
	f, _ := NewFallback(a, b)

	_, _, err := f.Synthesize(context.Background(), Request{Text: "x"})
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected both causes in error, got %v", err)
	}
}

func TestNewFallback_Empty(t *testing.T) {
	if _, err := NewFallback(); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec engine tests need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "synth.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecEngine(t *testing.T) {
	// "AAD/fw==" -> int16 {0, 32767}; "AIA=" -> int16 {-32768}
	script := writeScript(t, `cat > /dev/null
echo '{"pcm_base64":"AAD/fw==","final":false}'
echo '{"pcm_base64":"AIA=","final":true}'
`)
	e, err := NewExecEngine(script, 16000)
	if err != nil {
		t.Fatalf("NewExecEngine: %v", err)
	}
	samples, rate, err := e.Synthesize(context.Background(), Request{Text: "hello", Index: 0})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0] != 0 || samples[1] != 1.0 || samples[2] >= -1.0 {
		t.Errorf("unexpected samples %v", samples)
	}
}

func TestExecEngine_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-zero exit", "cat > /dev/null\nexit 3\n"},
		{"reported error", "cat > /dev/null\necho '{\"error\":\"model missing\"}'\n"},
		{"bad json", "cat > /dev/null\necho 'not json'\n"},
		{"no audio", "cat > /dev/null\necho '{\"pcm_base64\":\"\",\"final\":true}'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewExecEngine(writeScript(t, tt.body), 16000)
			if err != nil {
				t.Fatalf("NewExecEngine: %v", err)
			}
			if _, _, err := e.Synthesize(context.Background(), Request{Text: "x"}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewExecEngine_Invalid(t *testing.T) {
	if _, err := NewExecEngine("", 16000); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := NewExecEngine("synth", 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewExecEngine(`synth "unterminated`, 16000); err == nil {
		t.Error("expected error for unbalanced quotes")
	}
}

func TestNewTencentEngine_RequiresKeys(t *testing.T) {
	if _, err := NewTencentEngine(TencentConfig{}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
