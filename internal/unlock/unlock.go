// Package unlock tracks, per spot, whether a player has unlocked it by
// proximity or earned its stamp.
package unlock

import (
	"fmt"

	"github.com/playperu/stamprally/internal/stamprally"
)

type Transition struct {
	SpotID string
	From   stamprally.UnlockState
	To     stamprally.UnlockState
}

// Notifier receives every committed transition.
type Notifier func(Transition)

// Machine holds the unlock state of every spot. Spots it has never seen
// are Locked. It is not safe for concurrent use.
type Machine struct {
	states map[string]stamprally.UnlockState
	notify Notifier
}

// NewMachine rebuilds state at boot: stamped spots start Stamped, all
// others Locked.
func NewMachine(stamped []string, notify Notifier) *Machine {
	m := &Machine{
		states: make(map[string]stamprally.UnlockState, len(stamped)),
		notify: notify,
	}
	for _, id := range stamped {
		m.states[id] = stamprally.StateStamped
	}
	return m
}

func (m *Machine) State(spotID string) stamprally.UnlockState {
	if s, ok := m.states[spotID]; ok {
		return s
	}
	return stamprally.StateLocked
}

// QuizAvailable reports whether the quiz for spotID may be started.
func (m *Machine) QuizAvailable(spotID string) bool {
	return m.State(spotID) != stamprally.StateLocked
}

// Unlock applies a proximity verdict. Only a passing verdict on a Locked
// spot changes anything; it reports whether a transition happened.
func (m *Machine) Unlock(spotID string, v stamprally.Verdict) bool {
	if !v.Passed || m.State(spotID) != stamprally.StateLocked {
		return false
	}
	m.set(spotID, stamprally.StateProvisionallyUnlocked)
	return true
}

// Stamp moves a provisionally unlocked spot to Stamped once persist
// succeeds. A Stamped spot is left alone and persist is not called.
func (m *Machine) Stamp(spotID string, persist func() error) (bool, error) {
	switch m.State(spotID) {
	case stamprally.StateStamped:
		return false, nil
	case stamprally.StateLocked:
		return false, stamprally.ErrNotUnlocked
	}

	if err := persist(); err != nil {
		return false, fmt.Errorf("persisting stamp for %q: %w", spotID, err)
	}
	m.set(spotID, stamprally.StateStamped)
	return true, nil
}

func (m *Machine) set(spotID string, to stamprally.UnlockState) {
	from := m.State(spotID)
	m.states[spotID] = to
	if m.notify != nil {
		m.notify(Transition{SpotID: spotID, From: from, To: to})
	}
}
