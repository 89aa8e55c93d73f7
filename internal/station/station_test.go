package station_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"plategate/internal/controller"
	"plategate/internal/ledger/memory"
	"plategate/internal/plate"
	"plategate/internal/station"
	"plategate/internal/vote"
)

// scriptedRecognizer replays a fixed list of frames, then cancels the loop.
type scriptedRecognizer struct {
	frames []frame
	i      int
	done   context.CancelFunc
}

type frame struct {
	raw string
	ok  bool
	err error
}

func (r *scriptedRecognizer) Observe(context.Context) (string, bool, error) {
	if r.i >= len(r.frames) {
		r.done()
		return "", false, nil
	}
	f := r.frames[r.i]
	r.i++
	return f.raw, f.ok, f.err
}

type fakeGate struct{ opens, alerts int }

func (g *fakeGate) OpenCycle(context.Context, time.Duration) error { g.opens++; return nil }
func (g *fakeGate) Alert(context.Context) error                    { g.alerts++; return nil }

func runStation(t *testing.T, frames []frame) (*memory.Store, *fakeGate) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memory.New()
	gate := &fakeGate{}
	logger := log.New(io.Discard, "", 0)

	ctrl := controller.New(controller.Config{Station: controller.StationEntry}, store, store, gate, nil, logger)
	rec := &scriptedRecognizer{frames: frames, done: cancel}
	st := station.New(
		station.Config{Name: "entry", Interval: time.Millisecond},
		rec,
		plate.NewValidator(plate.DefaultFormat()),
		vote.NewWindow(vote.DefaultWindowSize),
		ctrl, nil, logger,
	)

	if err := st.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	return store, gate
}

func TestRun_ThreeConsistentFramesProduceOneDecision(t *testing.T) {
	store, gate := runStation(t, []frame{
		{raw: "RAB123K", ok: true},
		{raw: "RAB123K", ok: true},
		{raw: "RAB123K", ok: true},
	})

	sessions := store.Sessions()
	if len(sessions) != 1 || sessions[0].Plate != plate.Code("RAB123K") {
		t.Fatalf("sessions = %+v, want one for RAB123K", sessions)
	}
	if gate.opens != 1 {
		t.Errorf("gate opens = %d, want 1", gate.opens)
	}
}

func TestRun_RejectedFramesDoNotFillTheWindow(t *testing.T) {
	store, _ := runStation(t, []frame{
		{raw: "RAB123K", ok: true},
		{raw: "garbage", ok: true},  // no prefix, rejected
		{raw: "RAB12", ok: true},    // too short, rejected
		{raw: "RAB123K", ok: true},
	})

	// Only two valid observations, one short of a decision.
	if got := len(store.Sessions()); got != 0 {
		t.Errorf("sessions = %d, want 0", got)
	}
}

func TestRun_MajorityWinsAcrossNoisyFrames(t *testing.T) {
	store, _ := runStation(t, []frame{
		{raw: "RAB123K", ok: true},
		{raw: "RAB128K", ok: true}, // one misread digit
		{raw: "RAB123K", ok: true},
	})

	sessions := store.Sessions()
	if len(sessions) != 1 || sessions[0].Plate != plate.Code("RAB123K") {
		t.Fatalf("sessions = %+v, want one for RAB123K", sessions)
	}
}

func TestRun_SurvivesRecognizerErrorsAndEmptyFrames(t *testing.T) {
	store, _ := runStation(t, []frame{
		{err: errors.New("camera offline")},
		{ok: false},
		{raw: "RAB123K", ok: true},
		{err: errors.New("camera offline")},
		{raw: "RAB123K", ok: true},
		{raw: "RAB123K", ok: true},
	})

	if got := len(store.Sessions()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}
