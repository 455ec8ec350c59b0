package session

import "sync/atomic"

const (
	heartbeatReset  = 30
	heartbeatExpiry = -30
)

// heartbeat tracks the liveness countdown. It starts at 0 so the first beat
// fires immediately, decrements once per tick, and an ack resets it to 30.
// Liveness is lost once it falls past -30 without an ack. This countdown is
// the sole liveness mechanism; there is no separate idle-read timeout.
type heartbeat struct {
	countdown atomic.Int32
}

// Tick evaluates one second of the countdown. beat reports that a heartbeat
// frame must be sent now; timedOut reports that no ack arrived in time.
func (h *heartbeat) Tick() (beat, timedOut bool) {
	v := h.countdown.Load()
	switch {
	case v == 0:
		beat = true
	case v <= heartbeatExpiry:
		timedOut = true
	}
	h.countdown.Add(-1)
	return beat, timedOut
}

// Ack resets the countdown after a heartbeat ack arrives.
func (h *heartbeat) Ack() {
	h.countdown.Store(heartbeatReset)
}
