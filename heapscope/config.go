package heapscope

import (
	"flag"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"
)

// Config holds the engine options. It is loaded once before any event is
// recorded and must not be modified afterwards.
type Config struct {
	// OutputFile is the destination the report is appended to. When empty,
	// report emission is a no-op; the engine still tracks allocations.
	OutputFile string
	// TrackInvalidFrees enables logging of free events for addresses with no
	// live allocation record.
	TrackInvalidFrees bool
	// NoSymbols disables symbol resolution; trace frames carry raw addresses
	// only.
	NoSymbols bool
	// MinLeakBytes drops aggregated leaks strictly below this many bytes from
	// the itemized report. Zero reports everything.
	MinLeakBytes uint64
	// ProfileFile, when set, additionally writes the aggregated leaks as a
	// pprof profile at summary time.
	ProfileFile string
}

// LoadConfig parses the engine options from args with fallback to HU_*
// environment variables (HU_FILE, HU_FREE, HU_NOSYMS, HU_MINLEAK, HU_PPROF).
// The launcher typically passes nil args so that only the environment is
// consulted.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("heapscope", flag.ContinueOnError)
	fs.StringVar(&cfg.OutputFile, "file", "", "output file the report is appended to")
	fs.BoolVar(&cfg.TrackInvalidFrees, "free", false, "log invalid deallocations")
	fs.BoolVar(&cfg.NoSymbols, "nosyms", false, "disable symbol resolution")
	fs.Uint64Var(&cfg.MinLeakBytes, "minleak", 0, "minimum leak size in bytes to itemize")
	fs.StringVar(&cfg.ProfileFile, "pprof", "", "optional pprof profile output path")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("HU")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Severity classifies a diagnostic message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// DiagSink receives the engine's own diagnostics (configuration errors,
// invalid deallocation notices). The launcher decides where they end up.
type DiagSink interface {
	Report(sev Severity, msg string)
}

// logSink is the default DiagSink, forwarding to logrus.
type logSink struct{}

func (logSink) Report(sev Severity, msg string) {
	switch sev {
	case SeverityError:
		log.Error(msg)
	case SeverityWarning:
		log.Warn(msg)
	default:
		log.Info(msg)
	}
}
