// Package reconcile turns raw model output into schema-conformant records,
// asking the model to repair its output a bounded number of times.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/schema"
)

// State is a step of the reconciliation state machine.
type State int

const (
	StateInitial State = iota
	StateParsing
	StateValidating
	StateRepairing
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateParsing:
		return "parsing"
	case StateValidating:
		return "validating"
	case StateRepairing:
		return "repairing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Flag marks one record that failed validation.
type Flag struct {
	Index  int
	Path   string
	Reason string
}

// Diagnostic explains why an attempt was rejected. It wraps
// common.ErrParseFailure or common.ErrSchemaViolation.
type Diagnostic struct {
	Kind   error
	Detail string
	Flags  []Flag
}

func (d *Diagnostic) Error() string {
	if len(d.Flags) == 0 {
		return fmt.Sprintf("%v: %s", d.Kind, d.Detail)
	}
	parts := make([]string, 0, len(d.Flags))
	for _, f := range d.Flags {
		parts = append(parts, fmt.Sprintf("record %d at %s: %s", f.Index, location(f.Path), f.Reason))
	}
	return fmt.Sprintf("%v: %s", d.Kind, strings.Join(parts, "; "))
}

func (d *Diagnostic) Unwrap() error { return d.Kind }

func location(p string) string {
	if p == "" {
		return "(root)"
	}
	return p
}

// RepairFunc asks the model to fix lastRaw given the diagnostic and returns
// its new raw output.
type RepairFunc func(ctx context.Context, lastRaw string, d *Diagnostic) (string, error)

// Outcome is a successful reconciliation.
type Outcome struct {
	Records []map[string]any
	Raw     string  // the model output that was accepted
	Repairs int     // repair calls made
	Trace   []State // states visited, for diagnostics
}

// SchemaOutcome is a successful schema reconciliation.
type SchemaOutcome struct {
	Schema  *schema.Compiled
	Raw     string
	Repairs int
	Trace   []State
}

// Error is a failed reconciliation. It unwraps to the cause, which is
// common.ErrUnrecoverableOutput or the error that stopped the loop early.
type Error struct {
	Repairs int // repair calls made before giving up
	Trace   []State
	Err     error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// RepairsOf returns the repair calls recorded on a reconciliation error.
func RepairsOf(err error) (int, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Repairs, true
	}
	return 0, false
}

type Reconciler struct {
	maxRepairs int
	metrics    *metrics.Collector
	logger     *slog.Logger
}

type Option func(*Reconciler)

// WithMaxRepairs overrides constants.MaxRepairAttempts; negative values are treated as 0.
func WithMaxRepairs(n int) Option {
	return func(r *Reconciler) {
		if n < 0 {
			n = 0
		}
		r.maxRepairs = n
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{maxRepairs: constants.MaxRepairAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRepairs reports the repair bound in effect.
func (r *Reconciler) MaxRepairs() int { return r.maxRepairs }

// Reconcile parses raw as a {"data":[...]} envelope and validates every record
// against s. On failure it calls repair up to the configured bound. Failures
// after the bound wrap common.ErrUnrecoverableOutput and the last Diagnostic.
// A nil repair disables repairs.
func (r *Reconciler) Reconcile(ctx context.Context, raw string, s *schema.Compiled, repair RepairFunc) (*Outcome, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no schema", common.ErrSchemaInvalid)
	}
	records, accepted, repairs, trace, err := run(ctx, r, raw, repair, func(v any) ([]map[string]any, *Diagnostic) {
		return checkRecords(v, s)
	})
	if err != nil {
		return nil, &Error{Repairs: repairs, Trace: trace, Err: err}
	}
	return &Outcome{Records: records, Raw: accepted, Repairs: repairs, Trace: trace}, nil
}

// ReconcileSchema parses raw as a JSON Schema object and compiles it,
// repairing with the compile error on failure.
func (r *Reconciler) ReconcileSchema(ctx context.Context, raw string, repair RepairFunc) (*SchemaOutcome, error) {
	compiled, accepted, repairs, trace, err := run(ctx, r, raw, repair, checkSchema)
	if err != nil {
		return nil, &Error{Repairs: repairs, Trace: trace, Err: err}
	}
	return &SchemaOutcome{Schema: compiled, Raw: accepted, Repairs: repairs, Trace: trace}, nil
}

// run is the bounded state machine shared by both targets: parse, check,
// and on rejection repair and start over until the bound is spent.
func run[T any](ctx context.Context, r *Reconciler, raw string, repair RepairFunc, check func(any) (T, *Diagnostic)) (T, string, int, []State, error) {
	var (
		zero    T
		state   = StateInitial
		trace   = []State{StateInitial}
		repairs int
		last    *Diagnostic
		parsed  any
	)
	move := func(s State) {
		state = s
		trace = append(trace, s)
	}

	move(StateParsing)
	for {
		switch state {
		case StateParsing:
			v, err := parseJSON(raw)
			if err != nil {
				last = &Diagnostic{Kind: common.ErrParseFailure, Detail: err.Error()}
				move(StateRepairing)
				continue
			}
			parsed = v
			move(StateValidating)

		case StateValidating:
			out, diag := check(parsed)
			if diag == nil {
				move(StateSuccess)
				r.metrics.RecordRepairs(repairs)
				r.logger.Debug("reconcile.success", "repairs", repairs)
				return out, raw, repairs, trace, nil
			}
			last = diag
			move(StateRepairing)

		case StateRepairing:
			if repair == nil || repairs >= r.maxRepairs {
				move(StateFailed)
				continue
			}
			repairs++
			r.logger.Info("reconcile.repair",
				"req_id", common.RequestIDFromContext(ctx),
				"extractor_id", common.ExtractorIDFromContext(ctx),
				"attempt", repairs, "max", r.maxRepairs, "reason", last.Error())
			next, err := repair(ctx, raw, last)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return zero, "", repairs, trace, err
				}
				// a failed repair call spends the attempt; retry from the last output
				r.logger.Warn("reconcile.repair.failed", "attempt", repairs, "error", err)
				continue
			}
			raw = next
			move(StateParsing)

		case StateFailed:
			r.metrics.RecordRepairs(repairs)
			r.logger.Warn("reconcile.failed",
				"req_id", common.RequestIDFromContext(ctx),
				"extractor_id", common.ExtractorIDFromContext(ctx),
				"repairs", repairs, "reason", last.Error())
			return zero, "", repairs, trace, fmt.Errorf("%w after %d repair attempts: %w", common.ErrUnrecoverableOutput, repairs, last)

		default:
			return zero, "", repairs, trace, fmt.Errorf("reconcile: unexpected state %s", state)
		}
	}
}

func checkRecords(v any, s *schema.Compiled) ([]map[string]any, *Diagnostic) {
	records, err := unwrapEnvelope(v)
	if err != nil {
		return nil, &Diagnostic{Kind: common.ErrParseFailure, Detail: err.Error()}
	}
	var flags []Flag
	for i, rec := range records {
		if err := s.Validate(rec); err != nil {
			var viol *schema.Violation
			if errors.As(err, &viol) {
				flags = append(flags, Flag{Index: i, Path: viol.Path, Reason: viol.Reason})
				continue
			}
			flags = append(flags, Flag{Index: i, Reason: err.Error()})
		}
	}
	if len(flags) > 0 {
		return nil, &Diagnostic{Kind: common.ErrSchemaViolation, Detail: "records do not conform to the schema", Flags: flags}
	}
	return records, nil
}

func checkSchema(v any) (*schema.Compiled, *Diagnostic) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &Diagnostic{Kind: common.ErrParseFailure, Detail: "expected a JSON Schema object, got " + kindOf(v)}
	}
	c, err := schema.CompileMap(obj)
	if err != nil {
		return nil, &Diagnostic{Kind: common.ErrSchemaViolation, Detail: err.Error()}
	}
	return c, nil
}
