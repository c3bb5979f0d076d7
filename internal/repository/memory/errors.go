package memory

import "errors"

var (
	errDuplicateKey       = errors.New("duplicate key")
	errNotSucceeded       = errors.New("payment has not succeeded")
	errReservationMissing = errors.New("reserved funds are missing")
)
