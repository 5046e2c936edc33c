package database

import (
	"errors"

	"github.com/lib/pq"
)

// ErrConflict is returned when a unique constraint rejects a write.
var ErrConflict = errors.New("conflict")

// ErrExecutionRunning is returned when deleting an execution that has not finished.
var ErrExecutionRunning = errors.New("execution is still running")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
