package core

import (
	"errors"
	"testing"
	"time"
)

func TestFlowHappyPath(t *testing.T) {
	fm := NewFlowMachine()
	now := time.Now()
	fm.Begin(7, now)

	steps := []Stage{
		StageInLobby, StageEnteringSpace, StageInSpace,
		StageEnteringArea, StageInArea,
		StageStartingCall, StageInCall,
		StageInArea, StageInSpace, StageInLobby,
		StageLeaving, StageLoggedOut,
	}
	for _, next := range steps {
		if _, err := fm.ChangeStage(7, next, now, "test"); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if stage, _ := fm.StageOf(7); stage != StageLoggedOut {
		t.Errorf("final stage = %s", stage)
	}
}

func TestFlowRejectsSkips(t *testing.T) {
	fm := NewFlowMachine()
	fm.Begin(7, time.Now())

	// LOGGED_IN cannot jump straight into a map.
	if _, err := fm.ChangeStage(7, StageInSpace, time.Now(), "skip"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skip to IN_SPACE: err = %v, want ErrInvalidTransition", err)
	}
	if stage, _ := fm.StageOf(7); stage != StageLoggedIn {
		t.Errorf("stage after rejected transition = %s, want LOGGED_IN", stage)
	}
}

func TestFlowForcedLogoutFromAnyStage(t *testing.T) {
	fm := NewFlowMachine()
	now := time.Now()
	fm.Begin(7, now)
	mustTransition(t, fm, 7, StageInLobby, StageEnteringSpace, StageInSpace, StageEnteringArea, StageInArea, StageStartingCall, StageInCall)

	if _, err := fm.ChangeStage(7, StageLoggedOut, now, "forced"); err != nil {
		t.Fatalf("forced logout from IN_CALL: %v", err)
	}
}

func TestFlowSameStageIsNoOp(t *testing.T) {
	fm := NewFlowMachine()
	fm.Begin(7, time.Now())
	seq1, err := fm.ChangeStage(7, StageInLobby, time.Now(), "login")
	if err != nil {
		t.Fatalf("to lobby: %v", err)
	}
	seq2, err := fm.ChangeStage(7, StageInLobby, time.Now(), "again")
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if seq1 != seq2 {
		t.Errorf("no-op transition bumped seq %d -> %d", seq1, seq2)
	}
	if n := len(fm.History(7)); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}

func TestFlowChangeStageIfRejectsStaleToken(t *testing.T) {
	fm := NewFlowMachine()
	fm.Begin(7, time.Now())
	stale := fm.Seq(7)
	if _, err := fm.ChangeStage(7, StageInLobby, time.Now(), "login"); err != nil {
		t.Fatalf("to lobby: %v", err)
	}

	if _, err := fm.ChangeStageIf(7, StageEnteringSpace, stale, time.Now(), "stale finalizer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stale token accepted: err = %v", err)
	}
	if _, err := fm.ChangeStageIf(7, StageEnteringSpace, fm.Seq(7), time.Now(), "fresh"); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestFlowHistoryRecordsDurations(t *testing.T) {
	fm := NewFlowMachine()
	t0 := time.Now()
	fm.Begin(7, t0)
	if _, err := fm.ChangeStage(7, StageInLobby, t0.Add(time.Second), "login"); err != nil {
		t.Fatalf("to lobby: %v", err)
	}
	if _, err := fm.ChangeStage(7, StageEnteringSpace, t0.Add(3*time.Second), "enter"); err != nil {
		t.Fatalf("entering: %v", err)
	}

	hist := fm.History(7)
	if len(hist) != 2 {
		t.Fatalf("history length = %d", len(hist))
	}
	if hist[0].Duration != time.Second {
		t.Errorf("time in LOGGED_IN = %v, want 1s", hist[0].Duration)
	}
	if hist[1].From != StageInLobby || hist[1].Duration != 2*time.Second {
		t.Errorf("second transition = %+v", hist[1])
	}
}

func TestFlowHistoryIsBounded(t *testing.T) {
	fm := NewFlowMachine()
	now := time.Now()
	fm.Begin(7, now)
	mustTransition(t, fm, 7, StageInLobby)
	for i := 0; i < flowHistoryLimit; i++ {
		mustTransition(t, fm, 7, StageEnteringSpace, StageInSpace, StageInLobby)
	}
	if n := len(fm.History(7)); n != flowHistoryLimit {
		t.Errorf("history length = %d, want %d", n, flowHistoryLimit)
	}
}

func TestFlowForget(t *testing.T) {
	fm := NewFlowMachine()
	fm.Begin(7, time.Now())
	fm.Forget(7)
	if _, ok := fm.StageOf(7); ok {
		t.Error("stage survived Forget")
	}
	if _, err := fm.ChangeStage(7, StageInLobby, time.Now(), "ghost"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition on forgotten flow: err = %v", err)
	}
}

func mustTransition(t *testing.T, fm *FlowMachine, identity int64, stages ...Stage) {
	t.Helper()
	for _, next := range stages {
		if _, err := fm.ChangeStage(identity, next, time.Now(), "test"); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}
