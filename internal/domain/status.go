package domain

import "fmt"

// Status enumerates post record milestones.
type Status string

const (
	StatusResearching Status = "researching"
	StatusDrafting    Status = "drafting"
	StatusCritiquing  Status = "critiquing"
	StatusRewriting   Status = "rewriting"
	StatusQueued      Status = "queued"
	StatusPublished   Status = "published"
	StatusFailed      Status = "failed"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusResearching: {StatusDrafting: {}, StatusFailed: {}},
	StatusDrafting:    {StatusCritiquing: {}, StatusFailed: {}},
	StatusCritiquing:  {StatusRewriting: {}, StatusFailed: {}},
	StatusRewriting:   {StatusQueued: {}, StatusFailed: {}},
	StatusQueued:      {StatusPublished: {}, StatusFailed: {}},
	StatusPublished:   {},
	StatusFailed:      {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// CanTransition reports whether moving from s to next keeps the forward-only order.
func (s Status) CanTransition(next Status) bool {
	_, ok := allowedTransitions[s][next]
	return ok
}

// ValidateTransition returns an error describing a disallowed move.
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("invalid status: %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid status: %q", to)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid status transition: %s -> %s", from, to)
	}
	return nil
}
