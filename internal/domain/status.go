package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// DefaultStatuses is the vocabulary used when no deployment override is configured.
var DefaultStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusDelivered,
	StatusCancelled,
}

// IsTerminal reports whether no further transition is allowed out of s.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// StatusSet is the closed, per-deployment status vocabulary.
type StatusSet struct {
	allowed map[Status]bool
	ordered []Status
}

// NewStatusSet builds a vocabulary. pending, delivered and cancelled are mandatory
// because the lifecycle depends on them.
func NewStatusSet(statuses ...Status) (StatusSet, error) {
	set := StatusSet{allowed: make(map[Status]bool, len(statuses))}
	for _, s := range statuses {
		s = Status(strings.TrimSpace(string(s)))
		if s == "" {
			return StatusSet{}, fmt.Errorf("status set: empty status")
		}
		if set.allowed[s] {
			return StatusSet{}, fmt.Errorf("status set: duplicate status %q", s)
		}
		set.allowed[s] = true
		set.ordered = append(set.ordered, s)
	}
	for _, required := range []Status{StatusPending, StatusDelivered, StatusCancelled} {
		if !set.allowed[required] {
			return StatusSet{}, fmt.Errorf("status set: %q is required", required)
		}
	}
	return set, nil
}

// MustStatusSet is NewStatusSet for static vocabularies.
func MustStatusSet(statuses ...Status) StatusSet {
	set, err := NewStatusSet(statuses...)
	if err != nil {
		panic(err)
	}
	return set
}

func (s StatusSet) Valid(st Status) bool { return s.allowed[st] }

func (s StatusSet) List() []Status {
	out := make([]Status, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// CanTransition: target must be part of the vocabulary and the current status must not be terminal.
// Any non-terminal status may move to any valid status, cancelled included.
func (s StatusSet) CanTransition(from, to Status) bool {
	if !s.Valid(to) {
		return false
	}
	return !IsTerminal(from)
}
