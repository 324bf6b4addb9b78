package ingest

import (
	"context"
	"time"

	"logsift/internal/logger"
	"logsift/internal/record"
	"logsift/internal/syslog"
	"logsift/pkg/cel"
	"logsift/pkg/metrics"
)

// Vars exposes rec to listener expressions.
func Vars(rec record.Record) cel.Vars {
	var structured map[string]string
	if len(rec.Structured) > 0 {
		structured = make(map[string]string, len(rec.Structured))
		for _, p := range rec.Structured {
			structured[p.Key] = p.Value
		}
	}
	return cel.Vars{
		Timestamp:  rec.Timestamp,
		Host:       rec.Host,
		Addr:       rec.Addr,
		Port:       rec.Port,
		Facility:   rec.Facility,
		Severity:   rec.Severity,
		Format:     rec.Format,
		Message:    rec.Message,
		Raw:        rec.Raw,
		App:        rec.App,
		ProcID:     rec.ProcID,
		MsgID:      rec.MsgID,
		Structured: structured,
	}
}

// Hook runs action for the records matching filter. A nil filter matches
// every record. Evaluation errors are logged and skip the action.
func Hook(name string, filter *cel.Filter, action Listener, log logger.Logger) Listener {
	if filter == nil {
		return action
	}
	return func(ctx context.Context, rec record.Record) {
		ok, err := filter.Match(ctx, Vars(rec))
		if err != nil {
			metrics.IncListenerError(name)
			log.WarnwCtx(ctx, "Listener expression failed",
				"listener", name,
				"expression", filter.String(),
				"error", err,
			)
			return
		}
		if ok {
			action(ctx, rec)
		}
	}
}

// LogMatches logs every record it sees at info level.
func LogMatches(log logger.Logger) Listener {
	return func(ctx context.Context, rec record.Record) {
		log.InfowCtx(ctx, "Listener matched",
			"host", rec.Host,
			"facility", rec.Facility,
			"severity", rec.Severity,
			"message", rec.Message,
		)
	}
}

// ZoneResolver picks the zone of legacy timestamps by source address.
func ZoneResolver(def *time.Location, byAddr map[string]*time.Location) syslog.ZoneResolver {
	return func(addr string) *time.Location {
		if loc, ok := byAddr[addr]; ok {
			return loc
		}
		return def
	}
}
