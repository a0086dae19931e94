package store

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of an issue record.
type Status int

const (
	StatusUnknown Status = iota
	StatusPendingPlan
	StatusWaitingConfirmation
	StatusQueued
	StatusInProgress
	StatusDone
	StatusFailed
	StatusClosed
)

var statusNames = map[Status]string{
	StatusPendingPlan:         "pending_plan",
	StatusWaitingConfirmation: "waiting_confirmation",
	StatusQueued:              "queued",
	StatusInProgress:          "in_progress",
	StatusDone:                "done",
	StatusFailed:              "failed",
	StatusClosed:              "closed",
}

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusPendingPlan,
	StatusWaitingConfirmation,
	StatusQueued,
	StatusInProgress,
	StatusDone,
	StatusFailed,
	StatusClosed,
}

// String returns the persisted name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the seven lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no worker action follows s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusClosed
}

// ParseStatus converts a persisted name back to a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusUnknown, ParseEnumError("Status", s)
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) { return MarshalEnumJSON(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalEnumJSON(data, ParseStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Status) MarshalYAML() (interface{}, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal status: %w", ParseEnumError("Status", s.String()))
	}
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	v, err := UnmarshalEnumYAML(node, ParseStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ErrInvalidTransition is returned when a status change is not part of the
// lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions holds the forward edges of the lifecycle. Closure is handled
// separately: it is reachable from every state.
var transitions = map[Status][]Status{
	StatusPendingPlan:         {StatusWaitingConfirmation},
	StatusWaitingConfirmation: {StatusQueued},
	StatusQueued:              {StatusInProgress},
	StatusInProgress:          {StatusDone, StatusFailed, StatusQueued},
	StatusFailed:              {StatusQueued},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusClosed {
		return from != StatusClosed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
