package zure

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunRecorder accumulates one agent run as it executes: timed steps,
// decision tags, quality signals, and an optional failure classification.
// Decision and signal tags are validated against the catalog at capture
// time, so a bad tag surfaces at the call site rather than at flush.
//
// A RunRecorder is safe for concurrent use by the goroutines of a single
// run. Finish seals the recorder; captures after Finish are rejected.
type RunRecorder struct {
	mu          sync.Mutex
	run         IngestRunRequest
	nextSeq     int
	finished    bool
	captureErrs []error
}

// NewRun starts recording a run for the given agent identity. The run ID is
// generated here and doubles as the idempotency key on ingest.
func NewRun(agentID, agentVersion string) *RunRecorder {
	return &RunRecorder{
		run: IngestRunRequest{
			RunID:        uuid.New(),
			AgentID:      agentID,
			AgentVersion: agentVersion,
			StartedAt:    time.Now().UTC(),
		},
	}
}

// RunID returns the generated run identifier.
func (r *RunRecorder) RunID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.RunID
}

// SetEnvironment sets the deployment environment for the run. The server
// defaults to "production" when unset.
func (r *RunRecorder) SetEnvironment(env string) *RunRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Environment = env
	return r
}

// StepScope is an in-progress step started with StartStep. Call End (or
// EndWith) exactly once when the step completes.
type StepScope struct {
	recorder *RunRecorder
	stepID   uuid.UUID
	stepType StepType
	name     string
	started  time.Time
	metadata map[string]any
	ended    bool
}

// StartStep opens a timed step scope. Steps are assigned sequence numbers
// in the order their scopes end.
func (r *RunRecorder) StartStep(stepType StepType, name string) *StepScope {
	return &StepScope{
		recorder: r,
		stepID:   uuid.New(),
		stepType: stepType,
		name:     name,
		started:  time.Now().UTC(),
	}
}

// StepID returns the step's identifier, usable as the step_id reference on
// decisions, signals, and failures captured inside this scope.
func (s *StepScope) StepID() uuid.UUID {
	return s.stepID
}

// SetMetadata attaches one metadata entry to the step. Values must pass the
// privacy rules (primitive scalars, short strings, no content-bearing keys);
// a violating entry is dropped and reported at Finish.
func (s *StepScope) SetMetadata(key string, value any) *StepScope {
	if err := checkMetadata(map[string]any{key: value}); err != nil {
		s.recorder.recordCaptureErr(fmt.Errorf("zure: step %q: %w", s.name, err))
		return s
	}
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
	return s
}

// End closes the step scope, computing its latency from the wall clock.
func (s *StepScope) End() {
	s.EndWith(time.Now().UTC())
}

// EndWith closes the step scope at an explicit end time.
func (s *StepScope) EndWith(endedAt time.Time) {
	if s.ended {
		return
	}
	s.ended = true

	r := s.recorder
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.captureErrs = append(r.captureErrs, fmt.Errorf("zure: step %q ended after Finish", s.name))
		return
	}

	r.run.Steps = append(r.run.Steps, StepInput{
		StepID:    s.stepID,
		Seq:       r.nextSeq,
		StepType:  s.stepType,
		Name:      s.name,
		LatencyMS: endedAt.Sub(s.started).Milliseconds(),
		StartedAt: s.started,
		EndedAt:   endedAt,
		Metadata:  s.metadata,
	})
	r.nextSeq++
}

// RecordDecision captures a decision tag. decisionType and reasonCode must
// come from the catalog; an invalid pair is dropped and reported at Finish.
func (r *RunRecorder) RecordDecision(d DecisionInput) *RunRecorder {
	if d.DecisionID == uuid.Nil {
		d.DecisionID = uuid.New()
	}
	if err := d.validate(); err != nil {
		r.recordCaptureErr(err)
		return r
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.captureErrs = append(r.captureErrs, fmt.Errorf("zure: decision recorded after Finish"))
		return r
	}
	r.run.Decisions = append(r.run.Decisions, d)
	return r
}

// RecordSignal captures a quality signal. signalType and signalCode must
// come from the catalog; an invalid pair is dropped and reported at Finish.
func (r *RunRecorder) RecordSignal(s SignalInput) *RunRecorder {
	if s.SignalID == uuid.Nil {
		s.SignalID = uuid.New()
	}
	if err := s.validate(); err != nil {
		r.recordCaptureErr(err)
		return r
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.captureErrs = append(r.captureErrs, fmt.Errorf("zure: signal recorded after Finish"))
		return r
	}
	r.run.Signals = append(r.run.Signals, s)
	return r
}

// Fail records the failure classification for the run. The message is a
// short operator-facing code description and must not carry credentials or
// model content. Calling Fail more than once keeps the last classification.
func (r *RunRecorder) Fail(failureType FailureType, code, message string) *RunRecorder {
	f := FailureInput{FailureType: failureType, FailureCode: code, Message: message}
	if err := f.validate(); err != nil {
		r.recordCaptureErr(err)
		return r
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.captureErrs = append(r.captureErrs, fmt.Errorf("zure: failure recorded after Finish"))
		return r
	}
	r.run.Failure = &f
	return r
}

// FailAtStep is Fail with a step reference.
func (r *RunRecorder) FailAtStep(stepID uuid.UUID, failureType FailureType, code, message string) *RunRecorder {
	r.Fail(failureType, code, message)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run.Failure != nil {
		r.run.Failure.StepID = &stepID
	}
	return r
}

func (r *RunRecorder) recordCaptureErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captureErrs = append(r.captureErrs, err)
}

// Finish seals the recorder with the given terminal status and returns the
// validated ingest payload. The first capture error, if any occurred, is
// returned instead — the payload is still returned so callers that prefer
// partial data over none can submit it anyway.
func (r *RunRecorder) Finish(status RunStatus) (IngestRunRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.finished {
		r.finished = true
		now := time.Now().UTC()
		r.run.Status = status
		r.run.EndedAt = &now

		if status == RunStatusFailure && r.run.Failure == nil {
			r.run.Failure = &FailureInput{
				FailureType: FailureTypeOrchestration,
				FailureCode: "unclassified",
				Message:     "run failed without an explicit failure classification",
			}
		}
	}

	if len(r.captureErrs) > 0 {
		return r.run, r.captureErrs[0]
	}
	return r.run, r.run.Validate()
}
