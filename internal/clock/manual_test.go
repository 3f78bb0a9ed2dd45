package clock

import (
	"testing"
	"time"

	"github.com/danmuck/isonp/internal/testutil/testlog"
)

func TestManualAdvanceRunsDueTimersInOrder(t *testing.T) {
	testlog.Start(t)
	m := NewManual(time.Unix(1700000000, 0))
	var order []string
	m.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	m.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	m.AfterFunc(time.Second, func() { order = append(order, "c") })

	m.Advance(250 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order=%v", order)
	}
	if m.Pending() != 1 {
		t.Fatalf("unexpected pending=%d", m.Pending())
	}
	if got := m.Now(); !got.Equal(time.Unix(1700000000, 0).Add(250 * time.Millisecond)) {
		t.Fatalf("unexpected now=%v", got)
	}
}

func TestManualStopPreventsCallback(t *testing.T) {
	testlog.Start(t)
	m := NewManual(time.Unix(0, 0))
	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected first stop to report true")
	}
	if timer.Stop() {
		t.Fatalf("expected second stop to report false")
	}
	m.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestManualNestedTimersInsideWindow(t *testing.T) {
	testlog.Start(t)
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		m.AfterFunc(100*time.Millisecond, tick)
	}
	m.AfterFunc(100*time.Millisecond, tick)
	m.Advance(350 * time.Millisecond)
	if count != 3 {
		t.Fatalf("unexpected tick count=%d", count)
	}
}

func TestManualZeroDurationDueOnAdvanceZero(t *testing.T) {
	testlog.Start(t)
	m := NewManual(time.Unix(0, 0))
	fired := 0
	m.AfterFunc(0, func() { fired++ })
	m.AfterFunc(-time.Second, func() { fired++ })
	m.Advance(0)
	if fired != 2 {
		t.Fatalf("unexpected fired=%d", fired)
	}
}
