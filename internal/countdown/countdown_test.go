package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
)

func setup(duration time.Duration) (*Timer, *eventloop.Loop, *clockwork.FakeClock, *int) {
	fc := clockwork.NewFakeClock()
	loop := eventloop.New(fc, zerolog.Nop())
	expired := 0
	tm := New(loop, duration, time.Second, func() { expired++ })
	return tm, loop, fc, &expired
}

func TestExpiresExactlyOnce(t *testing.T) {
	tm, loop, fc, expired := setup(5 * time.Second)
	tm.Start()

	// Far more ticks than the duration.
	for range 20 {
		fc.Advance(time.Second)
		loop.RunPending()
	}

	if *expired != 1 {
		t.Fatalf("onExpire fired %d times, want 1", *expired)
	}
	if tm.State() != StateExpired {
		t.Fatalf("state = %s, want expired", tm.State())
	}
	if loop.ActiveTimers() != 0 {
		t.Fatal("trigger still armed after expiry")
	}
}

func TestDoubleStartDoesNotDoubleTick(t *testing.T) {
	tm, loop, fc, expired := setup(10 * time.Second)
	tm.Start()
	tm.Start()

	fc.Advance(3 * time.Second)
	loop.RunPending()

	if got := tm.Remaining(); got != 7*time.Second {
		t.Fatalf("Remaining() = %v, want 7s", got)
	}
	if loop.ActiveTimers() != 1 {
		t.Fatalf("ActiveTimers() = %d, want 1", loop.ActiveTimers())
	}
	if *expired != 0 {
		t.Fatal("expired early")
	}
}

func TestStopPreventsExpiry(t *testing.T) {
	tm, loop, fc, expired := setup(3 * time.Second)
	tm.Start()

	fc.Advance(time.Second)
	loop.RunPending()
	tm.Stop()

	fc.Advance(10 * time.Second)
	loop.RunPending()

	if *expired != 0 {
		t.Fatal("stopped timer expired")
	}
	if loop.ActiveTimers() != 0 {
		t.Fatal("trigger still armed after Stop")
	}
}

func TestResumeFromRemaining(t *testing.T) {
	tests := []struct {
		name        string
		remaining   time.Duration
		advance     time.Duration
		wantExpired int
		wantLeft    time.Duration
	}{
		{"partial", 4 * time.Second, 2 * time.Second, 0, 2 * time.Second},
		{"runs out", 4 * time.Second, 4 * time.Second, 1, 0},
		{"already over", 0, 0, 1, 0},
		{"negative", -time.Minute, 0, 1, 0},
		{"clamped to total", time.Hour, time.Second, 0, 9 * time.Second},
		{"rounds up partial unit", 1500 * time.Millisecond, time.Second, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, loop, fc, expired := setup(10 * time.Second)
			tm.Resume(tt.remaining)

			fc.Advance(tt.advance)
			loop.RunPending()

			if *expired != tt.wantExpired {
				t.Fatalf("expired = %d, want %d", *expired, tt.wantExpired)
			}
			if got := tm.Remaining(); got != tt.wantLeft {
				t.Fatalf("Remaining() = %v, want %v", got, tt.wantLeft)
			}
		})
	}
}

func TestOnTickAndFraction(t *testing.T) {
	tm, loop, fc, _ := setup(4 * time.Second)

	var seen []time.Duration
	tm.OnTick(func(r time.Duration) { seen = append(seen, r) })
	tm.Start()

	fc.Advance(2 * time.Second)
	loop.RunPending()

	if len(seen) != 2 || seen[0] != 3*time.Second || seen[1] != 2*time.Second {
		t.Fatalf("ticks = %v", seen)
	}
	if f := tm.Fraction(); f != 0.5 {
		t.Fatalf("Fraction() = %v, want 0.5", f)
	}
	if e := tm.Elapsed(); e != 2*time.Second {
		t.Fatalf("Elapsed() = %v, want 2s", e)
	}
}
