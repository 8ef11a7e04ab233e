package kafka

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateSubscribed:   "subscribed",
	StateRunning:      "running",
	StateStopping:     "stopping",
	StateCrashed:      "crashed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stopping covers both shutdown and the drain between two generations, so it
// leads back to Running once the partitions are drained. A failed rejoin
// crashes from Running. Crashed is left only through a new Run call.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateSubscribed, StateDisconnected},
	StateSubscribed:   {StateRunning, StateStopping, StateCrashed},
	StateRunning:      {StateStopping, StateCrashed},
	StateStopping:     {StateRunning, StateDisconnected},
	StateCrashed:      {StateConnecting},
}

var consumerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ingest_consumer_state",
	Help: "1 for the state the stream consumer is currently in",
}, []string{"state"})

type stateMachine struct {
	mu      sync.Mutex
	current State
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.current] {
		if allowed == to {
			consumerState.WithLabelValues(m.current.String()).Set(0)
			consumerState.WithLabelValues(to.String()).Set(1)
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
}
