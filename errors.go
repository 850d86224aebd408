package kiln

import "errors"

var (
	// Task errors.
	ErrTaskNotFound      = errors.New("kiln: task not found")
	ErrTaskAlreadyExists = errors.New("kiln: task already exists")
	ErrNoHandler         = errors.New("kiln: no handler registered for task")

	// Queue errors.
	ErrQueueClosed = errors.New("kiln: queue closed")

	// Periodic errors.
	ErrDuplicatePeriodic = errors.New("kiln: duplicate periodic entry")
	ErrPeriodicNotFound  = errors.New("kiln: periodic entry not found")
)
