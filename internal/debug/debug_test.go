package debug

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestEnabled(t *testing.T) {
	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

	enabled, verboseMode = false, false
	if Enabled() {
		t.Error("Enabled() = true with both switches off")
	}
	enabled = true
	if !Enabled() {
		t.Error("Enabled() = false with env switch on")
	}
	enabled = false
	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() = false with verbose on")
	}
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w
	// force re-resolution of the sink onto the swapped stderr
	sinkMu.Lock()
	sink = w
	sinkMu.Unlock()
	fn()
	_ = w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	sinkMu.Lock()
	sink = old
	sinkMu.Unlock()
	return buf.String()
}

func TestLogfRespectsSwitch(t *testing.T) {
	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()
	sinkOnce.Do(func() {}) // neutralize env sink selection

	enabled, verboseMode = true, false
	out := captureStderr(t, func() { Logf("claim window %d", 42) })
	if !strings.Contains(out, "claim window 42") {
		t.Errorf("Logf output %q missing message", out)
	}

	enabled = false
	out = captureStderr(t, func() { Logf("should not appear") })
	if out != "" {
		t.Errorf("Logf wrote %q while disabled", out)
	}
}

func TestJobf(t *testing.T) {
	oldEnabled := enabled
	defer func() { enabled = oldEnabled }()
	sinkOnce.Do(func() {})
	enabled = true

	out := captureStderr(t, func() { Jobf("reclaim", "j-1", "w-9", "retry=%d", 2) })
	for _, want := range []string{"job reclaim", "id=j-1", "worker=w-9", "retry=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Jobf output %q missing %q", out, want)
		}
	}
}
