// Package supervisor runs the relay control loop.
//
// The loop moves the pipeline through assembling, playing and a terminal
// error or eos state before stopping. While playing it drains the pipeline
// bus, reports degraded routing results and samples SRT statistics on a
// fixed interval. Element errors and end of stream tear the pipeline down
// without retrying; restarting the relay is left to the service manager.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/router"
	"github.com/smazurov/srtrelay/internal/srtstats"
)

// State of the control loop.
type State string

// Control loop states.
const (
	StateAssembling State = "assembling"
	StatePlaying    State = "playing"
	StateError      State = "error"
	StateEos        State = "eos"
	StateStopped    State = "stopped"
)

const (
	eventPlay = "play"
	eventFail = "fail"
	eventEOS  = "eos"
	eventStop = "stop"

	// StatsProperty is the structured property sampled from the stats source.
	StatsProperty = "stats"

	defaultStatsInterval = time.Second
	teardownTimeout      = 5 * time.Second
)

// PipelineError reports the element that ended the run.
type PipelineError struct {
	Element string
	Cause   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error from element %s: %v", e.Element, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Notifier receives service manager notifications.
type Notifier interface {
	Ready()
	Stopping()
	Status(status string)
}

// Config wires the supervisor to an assembled pipeline.
type Config struct {
	Pipeline graph.Pipeline
	// Stats is the element exposing the statistics record, usually srtsrc.
	Stats graph.PropertyReader
	// Degraded carries routing results that did not bind.
	Degraded      <-chan router.RoutingResult
	StatsInterval time.Duration
	Events        events.Publisher
	Logger        logging.Logger
	Notifier      Notifier
}

// Supervisor owns the lifecycle of one pipeline run.
type Supervisor struct {
	cfg     Config
	machine *fsm.FSM

	mu         sync.RWMutex
	lastErr    *PipelineError
	lastReport *srtstats.Report
	reportAt   time.Time
	decodeErrs uint64
	degraded   uint64

	teardownOnce sync.Once
	teardownErr  error
}

// New creates a supervisor in the assembling state.
func New(cfg Config) *Supervisor {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("supervisor")
	}

	s := &Supervisor{cfg: cfg}
	s.machine = fsm.NewFSM(
		string(StateAssembling),
		fsm.Events{
			{Name: eventPlay, Src: []string{string(StateAssembling)}, Dst: string(StatePlaying)},
			{Name: eventFail, Src: []string{string(StatePlaying)}, Dst: string(StateError)},
			{Name: eventEOS, Src: []string{string(StatePlaying)}, Dst: string(StateEos)},
			{Name: eventStop, Src: []string{
				string(StateAssembling), string(StatePlaying), string(StateError), string(StateEos),
			}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.onTransition(e.Src, e.Dst)
			},
		},
	)
	return s
}

// State returns the current control loop state.
func (s *Supervisor) State() State {
	return State(s.machine.Current())
}

// LastError returns the error that ended the run, if any.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr == nil {
		return nil
	}
	return s.lastErr
}

// LastReport returns the most recent decoded statistics report.
func (s *Supervisor) LastReport() (*srtstats.Report, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport, s.reportAt, s.lastReport != nil
}

// Counters returns the number of failed samples and degraded routing results
// seen so far.
func (s *Supervisor) Counters() (decodeFailures, degraded uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decodeErrs, s.degraded
}

func (s *Supervisor) onTransition(from, to string) {
	ev := events.PipelineStateEvent{
		From:      from,
		To:        to,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	s.mu.RLock()
	if s.lastErr != nil && State(to) == StateError {
		ev.Element = s.lastErr.Element
		ev.Error = s.lastErr.Cause.Error()
	}
	s.mu.RUnlock()

	s.cfg.Logger.Debug("Pipeline state changed", "from", from, "to", to)
	s.cfg.Events.Publish(ev)
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Status(to)
	}
}

// transition fires event on the state machine. A cancelled ctx must not
// abort the transition half way, so the machine never sees the cancellation.
func (s *Supervisor) transition(ctx context.Context, event string) {
	if err := s.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.cfg.Logger.Warn("State transition failed", "event", event, "state", s.machine.Current(), "error", err)
		}
	}
}

// Run starts the pipeline and drives it until an element error, end of
// stream or ctx cancellation. It returns a *PipelineError when an element
// failed and nil otherwise. The pipeline is always torn down on return.
func (s *Supervisor) Run(ctx context.Context) error {
	pipeline := s.cfg.Pipeline
	bus := pipeline.Bus()

	if err := pipeline.SetState(ctx, graph.StatePlaying); err != nil {
		perr := &PipelineError{Element: pipeline.Name(), Cause: err}
		s.setLastError(perr)
		s.cfg.Logger.Error("Failed to start pipeline", "pipeline", pipeline.Name(), "error", err)
		s.Teardown()
		s.transition(ctx, eventStop)
		return perr
	}
	s.transition(ctx, eventPlay)
	s.cfg.Logger.Info("Pipeline playing", "pipeline", pipeline.Name(), "stats_interval", s.cfg.StatsInterval)
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Ready()
	}

	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Info("Stopping pipeline", "reason", context.Cause(ctx))
			s.Teardown()
			s.transition(context.Background(), eventStop)
			return nil

		case <-bus.Ready():
			for {
				msg, ok := bus.Pop()
				if !ok {
					break
				}
				if done, err := s.handleMessage(ctx, msg); done {
					return err
				}
			}

		case result := <-s.cfg.Degraded:
			s.mu.Lock()
			s.degraded++
			s.mu.Unlock()
			s.cfg.Logger.Warn("Stream path degraded", "outcome", result.Outcome, "slot", result.Slot, "tag", result.Tag, "pad", result.Pad, "error", result.Err)

		case <-ticker.C:
			s.Sample()
		}
	}
}

// handleMessage processes one bus message and reports whether the run ended.
func (s *Supervisor) handleMessage(ctx context.Context, msg graph.Message) (bool, error) {
	switch msg.Type {
	case graph.MessageError:
		perr := &PipelineError{Element: msg.Source, Cause: msg.Err}
		s.setLastError(perr)
		s.cfg.Logger.Error("Error received from element", "element", msg.Source, "error", msg.Err)
		s.transition(ctx, eventFail)
		s.Teardown()
		s.transition(context.Background(), eventStop)
		return true, perr

	case graph.MessageEOS:
		s.cfg.Logger.Info("End of stream reached", "element", msg.Source)
		s.transition(ctx, eventEOS)
		s.Teardown()
		s.transition(context.Background(), eventStop)
		return true, nil

	case graph.MessageWarning:
		s.cfg.Logger.Warn("Warning received from element", "element", msg.Source, "error", msg.Err)

	case graph.MessageStateChanged:
		if msg.Source == s.cfg.Pipeline.Name() {
			s.cfg.Logger.Debug("Pipeline element state changed", "old", msg.OldState, "new", msg.NewState)
		}
	}
	return false, nil
}

func (s *Supervisor) setLastError(err *PipelineError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Sample reads and decodes one statistics snapshot. Failures are logged and
// published but never end the run.
func (s *Supervisor) Sample() {
	if s.cfg.Stats == nil {
		return
	}
	now := time.Now()

	raw, err := s.cfg.Stats.StructureProperty(StatsProperty)
	if err != nil {
		s.decodeFailed(now, fmt.Errorf("statistics unavailable: %w", err))
		return
	}
	report, err := srtstats.Decode(raw)
	if err != nil {
		s.decodeFailed(now, err)
		return
	}

	s.mu.Lock()
	s.lastReport = report
	s.reportAt = now
	s.mu.Unlock()

	s.cfg.Events.Publish(events.StatsSampledEvent{
		Report:    *report,
		Timestamp: now.Format(time.RFC3339),
	})
}

func (s *Supervisor) decodeFailed(at time.Time, err error) {
	s.mu.Lock()
	s.decodeErrs++
	s.mu.Unlock()

	ev := events.StatsDecodeFailedEvent{Error: err.Error(), Timestamp: at.Format(time.RFC3339)}
	var decErr *srtstats.DecodeError
	if errors.As(err, &decErr) {
		ev.Connection = decErr.Connection
		ev.Field = decErr.Field
		ev.Key = decErr.Key
	}
	s.cfg.Logger.Warn("Failed to decode SRT statistics", "error", err)
	s.cfg.Events.Publish(ev)
}

// Teardown stops the pipeline and releases it. Only the first call acts;
// later calls return the first result.
func (s *Supervisor) Teardown() error {
	s.teardownOnce.Do(func() {
		if s.cfg.Notifier != nil {
			s.cfg.Notifier.Stopping()
		}
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		s.teardownErr = s.cfg.Pipeline.SetState(ctx, graph.StateNull)
		s.cfg.Pipeline.Bus().SetFlushing(true)
		if s.teardownErr != nil {
			s.cfg.Logger.Warn("Pipeline teardown incomplete", "error", s.teardownErr)
		} else {
			s.cfg.Logger.Info("Pipeline released", "pipeline", s.cfg.Pipeline.Name())
		}
	})
	return s.teardownErr
}
