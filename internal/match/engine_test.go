package match

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewEngine(append([]Option{WithClock(clk)}, opts...)...), clk
}

func sq(r, c int) Square { return Square{Row: r, Col: c} }

func TestTurnFollowsMoveParity(t *testing.T) {
	e, _ := newTestEngine(t)
	m, err := e.Create(1, 2, false, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.RedTimeMs != DefaultTimeMs || m.Result != ResultOngoing || !m.Active {
		t.Fatalf("unexpected new match: %+v", m)
	}
	if err := e.Validate(m.ID, 2, sq(0, 0), sq(1, 0)); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("black before red: %v", err)
	}
	if err := e.Validate(m.ID, 1, sq(6, 0), sq(5, 0)); err != nil {
		t.Fatalf("red first move: %v", err)
	}
	if _, err := e.AddMove(m.ID, Move{From: sq(6, 0), To: sq(5, 0)}); err != nil {
		t.Fatalf("AddMove: %v", err)
	}
	if m.CurrentTurn() != Black || m.SideToMove() != 2 {
		t.Fatalf("expected black to move after one move")
	}
	if err := e.Validate(m.ID, 1, sq(5, 0), sq(4, 0)); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("red twice: %v", err)
	}
	if m.Moves[0].MoveID != 1 {
		t.Fatalf("move ids are 1-based, got %d", m.Moves[0].MoveID)
	}
}

func TestValidateBoundsAndSameSquare(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 0)
	bad := [][2]Square{
		{sq(10, 0), sq(9, 0)},
		{sq(0, 9), sq(0, 8)},
		{sq(-1, 0), sq(0, 0)},
		{sq(0, 0), sq(0, -1)},
	}
	for _, b := range bad {
		if err := e.Validate(m.ID, 1, b[0], b[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("%v -> %v: expected out of bounds, got %v", b[0], b[1], err)
		}
	}
	if err := e.Validate(m.ID, 1, sq(9, 8), sq(9, 8)); !errors.Is(err, ErrSamePosition) {
		t.Fatalf("same square: %v", err)
	}
	if err := e.Validate("nope", 1, sq(0, 0), sq(1, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown match: %v", err)
	}
}

func TestUpdateTimerClampsAtZero(t *testing.T) {
	e, clk := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 1000)
	clk.Advance(3 * time.Second)
	if !e.UpdateTimer(m.ID) {
		t.Fatalf("UpdateTimer on active match should succeed")
	}
	if m.RedTimeMs != 0 || m.BlackTimeMs != 1000 {
		t.Fatalf("clocks: red=%d black=%d", m.RedTimeMs, m.BlackTimeMs)
	}
	if !e.CheckTimeout(m.ID) {
		t.Fatalf("red should be out of time")
	}
}

func TestAddMoveRecordsSnapshotAndResetsClocks(t *testing.T) {
	e, clk := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 600000)
	clk.Advance(5 * time.Second)
	e.UpdateTimer(m.ID)
	if _, err := e.AddMove(m.ID, Move{From: sq(6, 4), To: sq(5, 4)}); err != nil {
		t.Fatalf("AddMove: %v", err)
	}
	mv := m.Moves[0]
	if mv.RedTimeMs != 595000 || mv.BlackTimeMs != 600000 {
		t.Fatalf("snapshot before reset: %+v", mv)
	}
	if m.RedTimeMs != 600000 || m.BlackTimeMs != 600000 {
		t.Fatalf("clocks should reset to the allotment: red=%d black=%d", m.RedTimeMs, m.BlackTimeMs)
	}
	if !m.LastMoveAt.Equal(clk.Now()) {
		t.Fatalf("last move time not advanced")
	}
}

func TestMoveLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 0)
	for i := 0; i < MaxMovesPerMatch; i++ {
		if _, err := e.AddMove(m.ID, Move{From: sq(0, 0), To: sq(1, 0)}); err != nil {
			t.Fatalf("move %d: %v", i+1, err)
		}
	}
	if _, err := e.AddMove(m.ID, Move{From: sq(0, 0), To: sq(1, 0)}); !errors.Is(err, ErrMoveLimit) {
		t.Fatalf("expected move limit, got %v", err)
	}
}

func TestEndIsTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.Create(1, 2, true, 0)
	if _, err := e.End(m.ID, ResultDraw, "agreement"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := e.End(m.ID, ResultRedWin, "resign"); !errors.Is(err, ErrEnded) {
		t.Fatalf("second End: %v", err)
	}
	if _, err := e.AddMove(m.ID, Move{From: sq(0, 0), To: sq(1, 0)}); !errors.Is(err, ErrEnded) {
		t.Fatalf("move after end: %v", err)
	}
	if err := e.Validate(m.ID, 1, sq(0, 0), sq(1, 0)); !errors.Is(err, ErrEnded) {
		t.Fatalf("validate after end: %v", err)
	}
	if m.Result != ResultDraw || m.Active {
		t.Fatalf("result should stay draw: %+v", m)
	}
	if _, ok := e.FindByUser(1); ok {
		t.Fatalf("ended match must not be found by user")
	}
	if got, ok := e.Get(m.ID); !ok || got != m {
		t.Fatalf("ended match should stay resident")
	}
}

func TestCapacityCountsActiveMatches(t *testing.T) {
	e, _ := newTestEngine(t, WithCapacity(2))
	a, _ := e.Create(1, 2, false, 0)
	if _, err := e.Create(3, 4, false, 0); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if _, err := e.Create(5, 6, false, 0); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	e.End(a.ID, ResultAborted, "test")
	if _, err := e.Create(5, 6, false, 0); err != nil {
		t.Fatalf("ending a match should free a slot: %v", err)
	}
}

func TestCheckAllTimeoutsReportsOnce(t *testing.T) {
	e, clk := newTestEngine(t)
	slow, _ := e.Create(1, 2, true, 1000)
	fast, _ := e.Create(3, 4, false, 60000)
	e.AddMove(slow.ID, Move{From: sq(6, 0), To: sq(5, 0)})
	clk.Advance(2 * time.Second)

	if n := e.CheckAllTimeouts(); n != 1 {
		t.Fatalf("expected one timeout, got %d", n)
	}
	infos := e.DrainTimeouts()
	if len(infos) != 1 {
		t.Fatalf("pending: %+v", infos)
	}
	got := infos[0]
	if got.MatchID != slow.ID || got.Result != ResultRedWin || !got.Rated || got.RedID != 1 || got.BlackID != 2 {
		t.Fatalf("unexpected timeout info: %+v", got)
	}
	if slow.Active || slow.EndReason != "timeout" {
		t.Fatalf("timed-out match should be ended: %+v", slow)
	}
	if !fast.Active || fast.RedTimeMs != 58000 {
		t.Fatalf("other match should only be charged: %+v", fast)
	}
	if n := e.CheckAllTimeouts(); n != 0 {
		t.Fatalf("ended match reported twice")
	}
	if len(e.DrainTimeouts()) != 0 {
		t.Fatalf("drain should empty the queue")
	}
}

func TestExpireQueuesTimeout(t *testing.T) {
	e, clk := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 500)
	if e.Expire(m.ID) {
		t.Fatalf("clock not exhausted yet")
	}
	clk.Advance(time.Second)
	e.UpdateTimer(m.ID)
	if !e.Expire(m.ID) {
		t.Fatalf("expected expiry")
	}
	if infos := e.DrainTimeouts(); len(infos) != 1 || infos[0].Result != ResultBlackWin {
		t.Fatalf("unexpected pending: %+v", infos)
	}
}

func TestSpectators(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 0)
	if err := e.AddSpectator(m.ID, 7); err != nil {
		t.Fatalf("AddSpectator: %v", err)
	}
	if err := e.AddSpectator(m.ID, 7); err != nil || len(m.Spectators) != 1 {
		t.Fatalf("re-adding should be a no-op: %v %v", err, m.Spectators)
	}
	for i := int64(100); len(m.Spectators) < MaxSpectatorsPerMatch; i++ {
		if err := e.AddSpectator(m.ID, i); err != nil {
			t.Fatalf("AddSpectator %d: %v", i, err)
		}
	}
	if err := e.AddSpectator(m.ID, 9999); !errors.Is(err, ErrSpectatorsFull) {
		t.Fatalf("expected full, got %v", err)
	}
	if !e.RemoveSpectator(m.ID, 7) || e.RemoveSpectator(m.ID, 7) {
		t.Fatalf("remove should succeed exactly once")
	}
	if n := e.DropSpectator(100); n != 1 || m.HasSpectator(100) {
		t.Fatalf("DropSpectator: %d", n)
	}
	e.End(m.ID, ResultDraw, "agreement")
	if err := e.AddSpectator(m.ID, 8); !errors.Is(err, ErrEnded) {
		t.Fatalf("spectating an ended match: %v", err)
	}
}

func TestRekeySpectator(t *testing.T) {
	e, _ := newTestEngine(t)
	a, _ := e.Create(1, 2, false, 0)
	b, _ := e.Create(3, 4, false, 0)
	e.AddSpectator(a.ID, -5)
	e.AddSpectator(b.ID, -5)
	e.AddSpectator(b.ID, 9)

	if n := e.RekeySpectator(-5, 9); n != 2 {
		t.Fatalf("RekeySpectator = %d, want 2", n)
	}
	if !a.HasSpectator(9) || a.HasSpectator(-5) {
		t.Fatalf("a: %v", a.Spectators)
	}
	if len(b.Spectators) != 1 || b.Spectators[0] != 9 {
		t.Fatalf("existing seat should not duplicate: %v", b.Spectators)
	}
	if n := e.RekeySpectator(-5, 9); n != 0 {
		t.Fatalf("second rekey = %d", n)
	}
}

func TestTimerDoesNotMutate(t *testing.T) {
	e, clk := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 10000)
	clk.Advance(4 * time.Second)
	v, ok := e.Timer(m.ID)
	if !ok || v.RedTimeMs != 6000 || v.BlackTimeMs != 10000 || v.CurrentTurn != Red || !v.Active {
		t.Fatalf("timer view: %+v", v)
	}
	if m.RedTimeMs != 10000 {
		t.Fatalf("Timer must not charge the clock")
	}
	if _, ok := e.Timer("missing"); ok {
		t.Fatalf("unknown match")
	}
}

func TestLiveAndSnapshot(t *testing.T) {
	e, clk := newTestEngine(t)
	a, _ := e.Create(1, 2, false, 0)
	clk.Advance(time.Second)
	b, _ := e.Create(3, 4, false, 0)
	e.AddMove(b.ID, Move{From: sq(9, 0), To: sq(8, 0)})
	e.AddSpectator(b.ID, 5)
	c, _ := e.Create(6, 7, false, 0)
	e.End(c.ID, ResultAborted, "test")

	live := e.Live()
	if len(live) != 2 || live[0].MatchID != a.ID || live[1].MatchID != b.ID {
		t.Fatalf("live: %+v", live)
	}
	if live[1].MoveCount != 1 || live[1].SpectatorCount != 1 || live[1].CurrentTurn != Black {
		t.Fatalf("live row: %+v", live[1])
	}
	snap := SnapshotOf(b)
	if len(snap.Moves) != 1 || snap.Moves[0].From != sq(9, 0) || snap.Result != ResultOngoing {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestEvictEnded(t *testing.T) {
	e, clk := newTestEngine(t)
	m, _ := e.Create(1, 2, false, 0)
	keep, _ := e.Create(3, 4, false, 0)
	e.End(m.ID, ResultDraw, "agreement")
	if n := e.EvictEnded(10 * time.Minute); n != 0 {
		t.Fatalf("recently ended match evicted")
	}
	clk.Advance(11 * time.Minute)
	if n := e.EvictEnded(10 * time.Minute); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, ok := e.Get(m.ID); ok {
		t.Fatalf("evicted match still resident")
	}
	if _, ok := e.Get(keep.ID); !ok {
		t.Fatalf("active match must never be evicted")
	}
}
