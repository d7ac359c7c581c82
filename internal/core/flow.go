package core

import (
	"fmt"
	"time"
)

// Stage is a step of the presence flow.
type Stage string

const (
	StageLoggedIn      Stage = "LOGGED_IN"
	StageInLobby       Stage = "IN_LOBBY"
	StageEnteringSpace Stage = "ENTERING_SPACE"
	StageInSpace       Stage = "IN_SPACE"
	StageEnteringArea  Stage = "ENTERING_AREA"
	StageInArea        Stage = "IN_AREA"
	StageStartingCall  Stage = "STARTING_CALL"
	StageInCall        Stage = "IN_CALL"
	StageStartingChat  Stage = "STARTING_CHAT"
	StageInChat        Stage = "IN_CHAT"
	StageLeaving       Stage = "LEAVING"
	StageLoggedOut     Stage = "LOGGED_OUT"
)

// allowedTransitions encodes the stage graph. Stages are not skippable;
// the only universal edge is the forced jump to LOGGED_OUT.
var allowedTransitions = map[Stage][]Stage{
	StageLoggedIn:      {StageInLobby},
	StageInLobby:       {StageEnteringSpace, StageLeaving},
	StageEnteringSpace: {StageInSpace, StageLeaving},
	StageInSpace:       {StageEnteringArea, StageEnteringSpace, StageInLobby, StageLeaving},
	StageEnteringArea:  {StageInArea, StageInSpace, StageLeaving},
	StageInArea:        {StageStartingCall, StageStartingChat, StageEnteringArea, StageInSpace, StageLeaving},
	StageStartingCall:  {StageInCall, StageInArea, StageLeaving},
	StageInCall:        {StageInArea, StageLeaving},
	StageStartingChat:  {StageInChat, StageInArea, StageLeaving},
	StageInChat:        {StageInArea, StageLeaving},
	StageLeaving:       {StageLoggedOut},
	StageLoggedOut:     {},
}

// Transition is one recorded stage change.
type Transition struct {
	From     Stage
	To       Stage
	At       time.Time
	Duration time.Duration // time spent in From
	Reason   string
}

// flowHistoryLimit bounds the per-identity transition ring.
const flowHistoryLimit = 64

type flowState struct {
	stage   Stage
	since   time.Time
	seq     uint64
	history []Transition
}

// FlowMachine tracks the presence flow stage of every identity. Concurrent
// transitions for the same identity serialize through the engine; a
// monotonic per-identity sequence token guards async finalizers against
// regressing a newer stage.
type FlowMachine struct {
	flows map[int64]*flowState
}

// NewFlowMachine creates an empty flow machine.
func NewFlowMachine() *FlowMachine {
	return &FlowMachine{flows: make(map[int64]*flowState)}
}

// Begin initializes an identity at LOGGED_IN and returns its sequence token.
func (fm *FlowMachine) Begin(identity int64, now time.Time) uint64 {
	fs, ok := fm.flows[identity]
	if !ok {
		fs = &flowState{}
		fm.flows[identity] = fs
	}
	fs.stage = StageLoggedIn
	fs.since = now
	fs.seq++
	return fs.seq
}

// ChangeStage closes the current stage (recording its duration) and opens
// the next one. Returns the new sequence token. Forced LOGGED_OUT is always
// permitted; every other skip fails with ErrInvalidTransition.
func (fm *FlowMachine) ChangeStage(identity int64, next Stage, now time.Time, reason string) (uint64, error) {
	fs, ok := fm.flows[identity]
	if !ok {
		return 0, fmt.Errorf("%w: identity %d has no flow", ErrInvalidTransition, identity)
	}
	if fs.stage == next {
		// Re-entering the current stage is a no-op, not an error.
		return fs.seq, nil
	}
	if next != StageLoggedOut && !transitionAllowed(fs.stage, next) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fs.stage, next)
	}

	fs.history = append(fs.history, Transition{
		From:     fs.stage,
		To:       next,
		At:       now,
		Duration: now.Sub(fs.since),
		Reason:   reason,
	})
	if len(fs.history) > flowHistoryLimit {
		fs.history = fs.history[len(fs.history)-flowHistoryLimit:]
	}

	fs.stage = next
	fs.since = now
	fs.seq++
	return fs.seq, nil
}

// ChangeStageIf applies the transition only when the identity's sequence
// token still matches. A stale close from an outdated handler is dropped.
func (fm *FlowMachine) ChangeStageIf(identity int64, next Stage, ifSeq uint64, now time.Time, reason string) (uint64, error) {
	fs, ok := fm.flows[identity]
	if !ok || fs.seq != ifSeq {
		return 0, fmt.Errorf("%w: stale sequence token", ErrInvalidTransition)
	}
	return fm.ChangeStage(identity, next, now, reason)
}

// StageOf returns the current stage of an identity.
func (fm *FlowMachine) StageOf(identity int64) (Stage, bool) {
	fs, ok := fm.flows[identity]
	if !ok {
		return "", false
	}
	return fs.stage, true
}

// Seq returns the current sequence token of an identity.
func (fm *FlowMachine) Seq(identity int64) uint64 {
	if fs, ok := fm.flows[identity]; ok {
		return fs.seq
	}
	return 0
}

// History returns a copy of the bounded transition history.
func (fm *FlowMachine) History(identity int64) []Transition {
	fs, ok := fm.flows[identity]
	if !ok {
		return nil
	}
	out := make([]Transition, len(fs.history))
	copy(out, fs.history)
	return out
}

// Forget drops all flow state for an identity (explicit logout).
func (fm *FlowMachine) Forget(identity int64) {
	delete(fm.flows, identity)
}

func transitionAllowed(from, to Stage) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
