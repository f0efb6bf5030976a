// Package shutdown implements the delayed shutdown countdown and its chat
// warnings.
package shutdown

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"voxelsync.ai/internal/logging"
)

// Thresholds are the remaining times, in seconds, at which a warning is
// broadcast.
var Thresholds = []float64{1, 2, 3, 4, 5, 10, 20, 40, 60, 120, 180, 300, 600, 1200, 1800, 3600}

const CanceledMessage = "*** Server shutdown canceled."

type State int

const (
	Idle State = iota
	Armed
	Requested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Requested:
		return "requested"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Broadcaster delivers a server chat message to every client.
type Broadcaster interface {
	Broadcast(text string)
}

// Machine is safe for use from the server goroutine and control
// goroutines at once.
type Machine struct {
	mu        sync.Mutex
	timer     float64
	message   string
	reconnect bool
	requested bool

	out Broadcaster
	log *logging.Logger
}

func New(out Broadcaster, log *logging.Logger) *Machine {
	return &Machine{out: out, log: log}
}

// Trigger arms, fires or cancels the shutdown. A zero delay requests it
// at once, a positive delay starts the countdown and a negative delay
// cancels a running countdown. Nothing undoes a request.
func (m *Machine) Trigger(delay float64, msg string, reconnect bool) {
	var notice string
	m.mu.Lock()
	switch {
	case m.requested:
	case delay == 0:
		m.requested = true
		m.timer = 0
		m.message, m.reconnect = msg, reconnect
		m.log.Infof("*** Immediate server shutdown requested.")
	case delay < 0:
		if m.timer > 0 {
			m.timer, m.message, m.reconnect = 0, "", false
			notice = CanceledMessage
		}
	default:
		m.timer = delay
		m.message, m.reconnect = msg, reconnect
		notice = TimerMessage(delay)
	}
	m.mu.Unlock()

	if notice != "" {
		m.log.Infof("%s", notice)
		m.out.Broadcast(notice)
	}
}

// Tick advances the countdown and returns the number of warnings sent.
// Each threshold crossed during dtime yields one warning.
func (m *Machine) Tick(dtime float64) int {
	var warnings []string
	m.mu.Lock()
	if m.timer <= 0 || m.requested {
		m.mu.Unlock()
		return 0
	}
	for i := len(Thresholds) - 1; i >= 0; i-- {
		t := Thresholds[i]
		if m.timer > t && m.timer-dtime < t {
			warnings = append(warnings, TimerMessage(t))
		}
	}
	m.timer -= dtime
	if m.timer <= 0 {
		m.timer = 0
		m.requested = true
	}
	m.mu.Unlock()

	for _, w := range warnings {
		m.log.Infof("%s", w)
		m.out.Broadcast(w)
	}
	return len(warnings)
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.requested:
		return Requested
	case m.timer > 0:
		return Armed
	}
	return Idle
}

func (m *Machine) Requested() bool { return m.State() == Requested }

// Remaining is the countdown left in seconds.
func (m *Machine) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer
}

// Message and reconnect flag to use when kicking clients.
func (m *Machine) Message() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message, m.reconnect
}

func TimerMessage(seconds float64) string {
	return "*** Server shutting down in " + FormatDuration(int(math.Round(seconds))) + "."
}

// FormatDuration renders seconds as "1d 2h 3min 4s", leaving out zero
// units.
func FormatDuration(sec int) string {
	if sec <= 0 {
		return "0s"
	}
	parts := make([]string, 0, 4)
	units := []struct {
		size   int
		suffix string
	}{{86400, "d"}, {3600, "h"}, {60, "min"}, {1, "s"}}
	for _, u := range units {
		if n := sec / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			sec %= u.size
		}
	}
	return strings.Join(parts, " ")
}
