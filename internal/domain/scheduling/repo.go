package scheduling

import (
	"context"
	"time"
)

// AppointmentRepository is the durable store for appointments. Implementations
// enforce one appointment per (date, slot) physically and report a violation
// as ErrSlotTaken from the same call that attempted the write. They never
// perform a separate occupancy read before writing.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	// GetForUpdate reads the row and holds a write lock on it until the
	// surrounding InTx call returns.
	GetForUpdate(ctx context.Context, id int64) (*Appointment, error)
	ListByDate(ctx context.Context, date string) ([]SlotOccupancy, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*Appointment, error)
	List(ctx context.Context, limit, offset int) ([]*Appointment, int, error)
	// Update replaces every mutable column of the row identified by a.ID.
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
	Delete(ctx context.Context, id int64) error
	// InTx runs fn in one transaction. Repository calls made with the
	// context passed to fn join it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
