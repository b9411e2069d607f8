package telemetry

import (
	"github.com/rjboer/iqsource/internal/logging"
)

// Reporter receives every record the hub processes.
type Reporter interface {
	Report(rec Record)
}

// MultiReporter fans out records to multiple destinations.
type MultiReporter []Reporter

// Report forwards the record to each configured reporter.
func (m MultiReporter) Report(rec Record) {
	for _, r := range m {
		if r != nil {
			r.Report(rec)
		}
	}
}

// StdoutReporter writes stream events to the logger. Overruns and malformed
// buffers are warnings, terminations are informational.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.OrDefault(logger)}
}

func (r StdoutReporter) Report(rec Record) {
	fields := []logging.Field{
		logging.Source(rec.Source),
		{Key: "seq", Value: rec.Seq},
		{Key: "overruns", Value: rec.Overruns},
	}
	if rec.Dropped != 0 {
		fields = append(fields, logging.Field{Key: "dropped", Value: rec.Dropped})
	}
	switch rec.Kind {
	case "terminated":
		r.logger.Info("stream terminated", fields...)
	case "malformed":
		r.logger.Warn("malformed buffer dropped", fields...)
	default:
		r.logger.Warn("stream overrun", fields...)
	}
}
