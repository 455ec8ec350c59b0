package session

import "testing"

// tick advances the countdown n seconds, failing the test if a timeout fires
// along the way, and reports at which ticks a beat was requested.
func tick(t *testing.T, hb *heartbeat, from, n int) []int {
	t.Helper()
	var beats []int
	for i := 0; i < n; i++ {
		beat, timedOut := hb.Tick()
		if timedOut {
			t.Fatalf("unexpected timeout at t=%d", from+i)
		}
		if beat {
			beats = append(beats, from+i)
		}
	}
	return beats
}

func TestHeartbeatFirstBeatIsImmediate(t *testing.T) {
	hb := &heartbeat{}
	beat, timedOut := hb.Tick()
	if !beat || timedOut {
		t.Errorf("Tick() at t=0 = (%v, %v), want beat without timeout", beat, timedOut)
	}
}

func TestHeartbeatTimesOutAtExactlyThirtySeconds(t *testing.T) {
	hb := &heartbeat{}
	tick(t, hb, 0, 30)

	_, timedOut := hb.Tick()
	if !timedOut {
		t.Fatal("no timeout at t=30")
	}
}

func TestHeartbeatAckResetsDeadline(t *testing.T) {
	hb := &heartbeat{}
	tick(t, hb, 0, 10)
	hb.Ack()

	// No timeout may fire before t=40, and the next beat is due then.
	beats := tick(t, hb, 10, 30)
	if len(beats) != 0 {
		t.Errorf("beats before countdown expires = %v, want none", beats)
	}
	beat, timedOut := hb.Tick()
	if !beat || timedOut {
		t.Errorf("Tick() at t=40 = (%v, %v), want beat without timeout", beat, timedOut)
	}
}

func TestHeartbeatLateAckStillRecovers(t *testing.T) {
	hb := &heartbeat{}
	tick(t, hb, 0, 29)
	hb.Ack()
	tick(t, hb, 29, 30)
}
