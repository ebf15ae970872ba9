package rfstate

import (
	"time"

	"github.com/solar3s/rfnode/task"
)

// ResendUnit scales the delay table.
const ResendUnit = 10 * time.Millisecond

// delays is the resend schedule in ResendUnit, before the node offset.
// The last entry repeats forever.
var delays = [...]uint8{1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// ResendOffset folds the nibbles of a node id into 0..15, so nodes that
// lost the same packet do not resend in lockstep.
func ResendOffset(nodeID uint16) uint8 {
	return uint8((nodeID ^ nodeID>>4 ^ nodeID>>8 ^ nodeID>>12) & 0xf)
}

// ResendDelay is the wait before the resend following retry number i.
func ResendDelay(i int, offset uint8) time.Duration {
	i = min(max(i, 0), len(delays)-1)
	return time.Duration(int(delays[i])+int(offset)) * ResendUnit
}

// resender is a deadline against a task.Clock with a saturating retry
// counter.
type resender struct {
	clock    task.Clock
	offset   uint8
	retries  int
	armed    bool
	deadline time.Duration
}

// start arms the timer for a fresh send.
func (r *resender) start() {
	r.retries = 0
	r.arm()
}

func (r *resender) arm() {
	r.armed = true
	r.deadline = r.clock.Now() + ResendDelay(r.retries, r.offset)
}

// due reports whether the timer fired.
func (r *resender) due() bool {
	return r.armed && r.clock.Now() >= r.deadline
}

// next arms the timer for the following resend.
func (r *resender) next() {
	if r.retries < len(delays)-1 {
		r.retries++
	}
	r.arm()
}

func (r *resender) cancel() { r.armed = false }

// state keeps the receiver on while an answer is awaited.
func (r *resender) state() task.State {
	if r.armed {
		return task.Until(task.Idle, r.deadline)
	}
	return task.Sleep(task.PowerDown)
}
