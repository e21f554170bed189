package store

import "errors"

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrTicketHeld is returned when resolving a held ticket.
	ErrTicketHeld = errors.New("ticket is held")

	// ErrInvalidTransition is returned when a compare-and-set status update
	// finds the row in a different state than expected.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyTerminal is returned when mutating a proposal that has
	// reached a terminal status.
	ErrAlreadyTerminal = errors.New("proposal is terminal")
)
