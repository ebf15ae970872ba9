// Package task holds the contract between cooperative components and the
// loop driving them: every poll reports how deeply the node may sleep and
// until when.
package task

import (
	"fmt"
	"time"
)

// SleepMode is how deep a component lets the node sleep. Deeper modes
// compare greater.
type SleepMode uint8

const (
	Busy SleepMode = iota
	Idle
	PowerSave
	PowerDown
)

var sleepModeNames = [...]string{"Busy", "Idle", "PowerSave", "PowerDown"}

func (m SleepMode) String() string {
	if int(m) < len(sleepModeNames) {
		return sleepModeNames[m]
	}
	return fmt.Sprintf("SleepMode(%d)", m)
}

func (m SleepMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SleepMode) UnmarshalText(b []byte) error {
	for i, name := range sleepModeNames {
		if name == string(b) {
			*m = SleepMode(i)
			return nil
		}
	}
	return fmt.Errorf("Cannot unmarshall %q to SleepMode. Is it mispelled?", b)
}

// State is what a component answers after a poll. Deadline is a Clock
// time, meaningful only with HasDeadline.
type State struct {
	Mode        SleepMode     `json:"mode"`
	Deadline    time.Duration `json:"deadline,omitempty"`
	HasDeadline bool          `json:"hasDeadline"`
}

// Working reports a component with more to do right away.
func Working() State { return State{Mode: Busy} }

// Sleep allows mode with no wake-up deadline.
func Sleep(mode SleepMode) State { return State{Mode: mode} }

// Until allows mode until deadline.
func Until(mode SleepMode, deadline time.Duration) State {
	return State{Mode: mode, Deadline: deadline, HasDeadline: true}
}

// Merge combines two states: the shallowest mode and the earliest
// deadline win.
func (s State) Merge(o State) State {
	if o.Mode < s.Mode {
		s.Mode = o.Mode
	}
	if o.HasDeadline && (!s.HasDeadline || o.Deadline < s.Deadline) {
		s.Deadline = o.Deadline
		s.HasDeadline = true
	}
	return s
}

// Merge folds states, starting from the deepest sleep with no deadline.
func Merge(states ...State) State {
	s := Sleep(PowerDown)
	for _, o := range states {
		s = s.Merge(o)
	}
	return s
}

func (s State) String() string {
	if s.HasDeadline {
		return fmt.Sprintf("%s until %s", s.Mode, s.Deadline)
	}
	return s.Mode.String()
}
