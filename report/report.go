// Package report implements the engine's observability callback (§7): a
// mutex-guarded, color-coded reporter for decode, predicate, middleware,
// and callback errors, directly modeled on the teacher's pkg/cprint.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/fatih/color"
)

// Stage identifies which dispatch stage produced an error, per the §7
// taxonomy.
type Stage string

const (
	StageDecode     Stage = "decode"
	StagePredicate  Stage = "predicate"
	StageMiddleware Stage = "middleware"
	StageCallback   Stage = "callback"
)

// Event is one reported error: which stage, which handler (if any), which
// record, and the underlying error. No error in this taxonomy propagates
// out of Process(); Event is how the engine surfaces them instead.
type Event struct {
	Stage     Stage
	HandlerID string
	EventID   string
	Err       error
}

func (e Event) String() string {
	if e.HandlerID == "" {
		return fmt.Sprintf("[%s] record=%s: %v", e.Stage, e.EventID, e.Err)
	}
	return fmt.Sprintf("[%s] handler=%s record=%s: %v", e.Stage, e.HandlerID, e.EventID, e.Err)
}

// Reporter receives Events as the engine processes a batch. Implement it
// to forward events to a structured log sink; Console is the provided
// default for local/CLI use.
type Reporter interface {
	Report(Event)
}

// Func adapts a plain function to the Reporter interface.
type Func func(Event)

// Report implements Reporter.
func (f Func) Report(e Event) { f(e) }

var (
	mu sync.Mutex
	// DisableOutput silences Console, mirroring pkg/cprint's flag of the
	// same name and purpose.
	DisableOutput bool
)

var (
	decodeFprintln     = color.New(color.FgRed).FprintlnFunc()
	predicateFprintln  = color.New(color.FgYellow).FprintlnFunc()
	middlewareFprintln = color.New(color.FgMagenta).FprintlnFunc()
	callbackFprintln   = color.New(color.FgRed).FprintlnFunc()
)

// Console is the default Reporter: it prints each Event to stderr,
// color-coded by stage, guarded by a package-level mutex so concurrent
// reporters (e.g. from a bounded errgroup emitting deferral messages)
// never interleave a single line.
var Console Reporter = Func(func(e Event) {
	if DisableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	fn := callbackFprintln
	switch e.Stage {
	case StageDecode:
		fn = decodeFprintln
	case StagePredicate:
		fn = predicateFprintln
	case StageMiddleware:
		fn = middlewareFprintln
	}
	fn(os.Stderr, e.String())
})

// PlainWriter returns a Reporter that writes ANSI-stripped lines to w, for
// non-tty sinks such as a structured log file, the same way the teacher's
// integration tests strip ANSI before asserting on CLI output.
func PlainWriter(w io.Writer) Reporter {
	return Func(func(e Event) {
		fmt.Fprintln(w, stripansi.Strip(e.String()))
	})
}
