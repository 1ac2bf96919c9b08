package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/mqtt"
)

// Default loop timing.
const (
	// defaultYieldTimeout is how long each Yield may block.
	defaultYieldTimeout = 100 * time.Millisecond

	// defaultPacingDelay spaces consecutive publishes.
	defaultPacingDelay = time.Second
)

// Session is the part of the MQTT session the loop drives.
// Satisfied by *mqtt.Session.
type Session interface {
	// Yield lets the session advance and returns its state.
	Yield(timeout time.Duration) mqtt.ConnectionState

	// Publish sends one message.
	Publish(topic string, payload []byte, qos byte) error

	// State returns the current state without advancing it.
	State() mqtt.ConnectionState

	// Err returns the terminal error once the session is no longer alive.
	Err() error
}

// FrameSource is the part of the ingest adapter the loop drives.
// Satisfied by *Ingest.
type FrameSource interface {
	TickMaintenance()
	HasAvailableFrame() bool
	PeekHeader() (Header, error)
	ReadFrame(h Header) (SensorRecord, error)
}

// Archive stores published readings (optional).
type Archive interface {
	WriteReading(nodeID, temperature uint64, at time.Time)
}

// Metrics receives loop observations (optional).
type Metrics interface {
	// FrameProcessed counts one consumed frame by result: "decoded",
	// "unrecognized", "malformed" or "error".
	FrameProcessed(result string)

	// PublishAttempted counts one publish by result: "ok" or "failed".
	PublishAttempted(result string)

	// StateObserved records the session state after a Yield.
	StateObserved(state mqtt.ConnectionState)

	// BudgetObserved records the remaining budget. unlimited is true when
	// no limit applies.
	BudgetObserved(left uint64, unlimited bool)
}

// Frame processing results reported to Metrics.
const (
	ResultDecoded      = "decoded"
	ResultUnrecognized = "unrecognized"
	ResultMalformed    = "malformed"
	ResultError        = "error"
	ResultOK           = "ok"
	ResultFailed       = "failed"
)

// StopReason says why Run returned.
type StopReason int

const (
	// BudgetExhausted means the publish budget reached zero.
	BudgetExhausted StopReason = iota

	// Fatal means the session is no longer alive.
	Fatal

	// Interrupted means the context was cancelled.
	Interrupted
)

func (r StopReason) String() string {
	switch r {
	case BudgetExhausted:
		return "budget_exhausted"
	case Fatal:
		return "fatal"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Outcome summarises a finished run.
type Outcome struct {
	Reason    StopReason
	State     mqtt.ConnectionState
	Published uint64
	Rejected  uint64
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	// Source supplies mesh frames (required).
	Source FrameSource

	// Session publishes readings (required).
	Session Session

	// Budget limits publishes. Nil means Unlimited.
	Budget *PublishBudget

	// YieldTimeout bounds each Yield. Default: 100ms.
	YieldTimeout time.Duration

	// PacingDelay is slept before each frame is read. Default: 1s.
	// Negative disables pacing.
	PacingDelay time.Duration

	// QoS for readings. Default: 0.
	QoS byte

	// Sleep replaces time.Sleep (tests).
	Sleep func(time.Duration)

	// Now replaces time.Now (tests).
	Now func() time.Time

	Logger  Logger
	Archive Archive
	Metrics Metrics
}

// Loop is the bridge: a single cooperative loop that keeps the mesh
// maintained, drains sensor frames and publishes each decoded reading
// exactly once.
//
// Thread Safety: Run must not be called concurrently.
type Loop struct {
	source  FrameSource
	session Session
	budget  PublishBudget
	yield   time.Duration
	pacing  time.Duration
	qos     byte
	sleep   func(time.Duration)
	now     func() time.Time
	logger  Logger
	archive Archive
	metrics Metrics

	state     mqtt.ConnectionState
	published uint64
	rejected  uint64
}

// NewLoop creates a bridge loop.
//
// Returns:
//   - *Loop: Ready loop
//   - error: If Source or Session is missing
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Source == nil {
		return nil, errors.New("mesh: frame source is required")
	}
	if opts.Session == nil {
		return nil, errors.New("mesh: session is required")
	}

	budget := Unlimited()
	if opts.Budget != nil {
		budget = *opts.Budget
	}
	if opts.YieldTimeout <= 0 {
		opts.YieldTimeout = defaultYieldTimeout
	}
	if opts.PacingDelay < 0 {
		opts.PacingDelay = 0
	} else if opts.PacingDelay == 0 {
		opts.PacingDelay = defaultPacingDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Loop{
		source:  opts.Source,
		session: opts.Session,
		budget:  budget,
		yield:   opts.YieldTimeout,
		pacing:  opts.PacingDelay,
		qos:     opts.QoS,
		sleep:   opts.Sleep,
		now:     opts.Now,
		logger:  opts.Logger,
		archive: opts.Archive,
		metrics: opts.Metrics,
		state:   opts.Session.State(),
	}, nil
}

// tickResult tells Run what the drain phase decided.
type tickResult int

const (
	tickContinue tickResult = iota
	tickDefer
	tickStop
	tickInterrupted
)

// Run drives the bridge until the budget is exhausted, the session dies
// or ctx is cancelled. ctx is checked between ticks and between frames; an
// in-flight read or publish always completes.
//
// Returns:
//   - Outcome: Why the loop stopped and what it did
//   - error: The session's terminal error when Reason is Fatal, else nil
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	l.observeBudget()
	if l.budget.Exhausted() {
		return l.stop(BudgetExhausted)
	}

	for {
		select {
		case <-ctx.Done():
			return l.stop(Interrupted)
		default:
		}

		l.source.TickMaintenance()

		if !l.source.HasAvailableFrame() {
			if !l.advance().IsAlive() {
				return l.stop(Fatal)
			}
			continue
		}

		switch l.drain(ctx) {
		case tickInterrupted:
			return l.stop(Interrupted)
		case tickStop:
			if l.budget.Exhausted() {
				return l.stop(BudgetExhausted)
			}
			return l.stop(Fatal)
		case tickDefer, tickContinue:
		}
	}
}

// drain processes queued frames until none remain, the session needs a
// tick off, or the loop must stop.
func (l *Loop) drain(ctx context.Context) tickResult {
	for l.source.HasAvailableFrame() {
		if ctx.Err() != nil {
			return tickInterrupted
		}
		st := l.advance()
		if st == mqtt.ReconnectAttempting {
			return tickDefer
		}
		if !st.IsAlive() {
			return tickStop
		}

		l.sleep(l.pacing)

		h, err := l.source.PeekHeader()
		if err != nil {
			l.logWarn("peek frame failed", "error", err)
			return tickContinue
		}

		rec, err := l.source.ReadFrame(h)
		if err != nil {
			l.rejectFrame(h, err)
			continue
		}
		l.frameProcessed(ResultDecoded)

		if !l.publish(rec) {
			return tickStop
		}
		if l.budget.Exhausted() {
			return tickStop
		}
	}
	return tickContinue
}

// publish sends one reading. It returns false when the session died.
func (l *Loop) publish(rec SensorRecord) bool {
	topic, body := Translate(rec)
	err := l.session.Publish(topic, body, l.qos)
	if err != nil {
		l.publishAttempted(ResultFailed)
		l.logError("publish failed", err, "topic", topic)

		l.state = l.session.State()
		l.observeState()
		return l.state.IsAlive()
	}

	l.publishAttempted(ResultOK)
	l.published++
	l.budget.Consume()
	l.observeBudget()
	if l.archive != nil {
		l.archive.WriteReading(rec.NodeID, rec.Temperature, l.now())
	}
	l.logDebug("reading published", "topic", topic, "temperature", rec.Temperature, "node_id", rec.NodeID)
	return true
}

func (l *Loop) rejectFrame(h Header, err error) {
	var fe *FrameError
	if !errors.As(err, &fe) {
		l.frameProcessed(ResultError)
		l.logError("read frame failed", err, "from", h.From.String())
		return
	}

	l.rejected++
	if errors.Is(fe, ErrDecodeFailed) {
		l.frameProcessed(ResultMalformed)
	} else {
		l.frameProcessed(ResultUnrecognized)
	}
	l.logWarn(fmt.Sprintf("rcv bad type %d from %s", fe.Type, fe.From), "error", err, "size", fe.Size)
}

// advance yields to the session and records the state.
func (l *Loop) advance() mqtt.ConnectionState {
	l.state = l.session.Yield(l.yield)
	l.observeState()
	return l.state
}

func (l *Loop) stop(reason StopReason) (Outcome, error) {
	out := Outcome{Reason: reason, State: l.state, Published: l.published, Rejected: l.rejected}

	switch reason {
	case BudgetExhausted:
		l.logInfo("publish done", "published", l.published, "rejected", l.rejected)
		return out, nil
	case Interrupted:
		l.logInfo("bridge interrupted", "published", l.published, "rejected", l.rejected)
		return out, nil
	}

	err := l.session.Err()
	if err == nil {
		err = fmt.Errorf("%w (state %s)", ErrSessionDown, l.state)
	}
	l.logError("an error occurred in the loop", err, "state", l.state.String(), "published", l.published)
	return out, err
}

func (l *Loop) observeState() {
	if l.metrics != nil {
		l.metrics.StateObserved(l.state)
	}
}

func (l *Loop) observeBudget() {
	if l.metrics != nil {
		left, limited := l.budget.Left()
		l.metrics.BudgetObserved(left, !limited)
	}
}

func (l *Loop) frameProcessed(result string) {
	if l.metrics != nil {
		l.metrics.FrameProcessed(result)
	}
}

func (l *Loop) publishAttempted(result string) {
	if l.metrics != nil {
		l.metrics.PublishAttempted(result)
	}
}

func (l *Loop) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}

func (l *Loop) logInfo(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Info(msg, keysAndValues...)
	}
}

func (l *Loop) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, keysAndValues...)
	}
}

func (l *Loop) logError(msg string, err error, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
