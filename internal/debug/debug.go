// Package debug provides env-gated diagnostic tracing, separate from the
// structured daemon log. Enable with NOTEBOOK_DEBUG=1; redirect with
// NOTEBOOK_DEBUG_FILE=/path/to/trace.log.
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("NOTEBOOK_DEBUG") != ""
	verboseMode = false

	sinkOnce sync.Once
	sinkMu   sync.Mutex
	sink     *os.File
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables debug output regardless of the environment switch.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

func output() *os.File {
	sinkOnce.Do(func() {
		sink = os.Stderr
		if path := os.Getenv("NOTEBOOK_DEBUG_FILE"); path != "" {
			if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				sink = f
			}
		}
	})
	return sink
}

// Logf writes one timestamped trace line when debugging is enabled.
func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	fmt.Fprintf(output(), "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}

// Jobf traces one job-queue transition: claim, complete, fail, reclaim.
// Keeping these on a single greppable prefix makes queue stalls easy to
// reconstruct from a trace file.
func Jobf(action, jobID, workerID string, format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	detail := ""
	if format != "" {
		detail = " " + fmt.Sprintf(format, args...)
	}
	Logf("job %s id=%s worker=%s%s", action, jobID, workerID, detail)
}
