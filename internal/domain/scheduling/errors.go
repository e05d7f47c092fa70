package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidSlot   = errors.New("invalid time slot")
	ErrSlotTaken     = errors.New("time slot is already booked")
	ErrInvalidStatus = errors.New("invalid appointment status")
	ErrNotFound      = errors.New("appointment not found")
	ErrMissingFields = errors.New("missing required fields")
)

// StorageFault wraps an unexpected store failure. It is never user-correctable.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// IsStorageFault reports whether err carries a StorageFault.
func IsStorageFault(err error) bool {
	var sf *StorageFault
	return errors.As(err, &sf)
}

// classify passes domain errors through and wraps everything else.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidSlot),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrMissingFields):
		return err
	}
	if IsStorageFault(err) {
		return err
	}
	return &StorageFault{Op: op, Err: err}
}
