package controller

import "slices"

// State is the controller's lifecycle state.
type State string

// Controller states.
const (
	StateIdle        State = "idle"
	StateConfiguring State = "configuring"
	StateConfigured  State = "configured"
	StateRunning     State = "running"
)

var validStates = map[State][]State{
	StateIdle:        {StateConfiguring},
	StateConfiguring: {StateConfigured, StateIdle},
	StateConfigured:  {StateRunning, StateIdle},
	StateRunning:     {StateIdle},
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State    State  `json:"state"`
	RunID    string `json:"run_id,omitempty"`
	TestName string `json:"test_name,omitempty"`
	QueueLen int    `json:"queue_len"`
}

// setState moves the controller to a new state. It runs on the worker.
func (c *Controller) setState(to State) {
	if !slices.Contains(validStates[c.state], to) {
		c.logger.Error("unexpected controller state transition", "from", c.state, "to", to)
	}
	c.state = to
}
