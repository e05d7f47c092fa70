package scheduling

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date form used in storage and on the wire.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusConfirmed: true,
}

// IsValidStatus reports whether s is an accepted lifecycle state.
func IsValidStatus(s Status) bool {
	return validStatuses[s]
}

// Appointment maps to the appointment table. One row occupies one
// (AppointmentDate, AppointmentTime) pair system-wide.
type Appointment struct {
	ID              int64     `db:"appointment_id" json:"appointment_id"`
	CustomerID      string    `db:"customer_id" json:"customer_id"`
	VehicleNumber   string    `db:"vehicle_number" json:"vehicle_number"`
	VehicleType     string    `db:"vehicle_type" json:"vehicle_type"`
	ServiceType     string    `db:"service_type" json:"service_type"`
	PhoneNumber     string    `db:"phone_number" json:"phone_number"`
	AppointmentDate string    `db:"appointment_date" json:"appointment_date"`
	AppointmentTime TimeSlot  `db:"appointment_time" json:"appointment_time"`
	Status          Status    `db:"status_" json:"status_"`
	StatusUpdatedAt time.Time `db:"status_updated_at" json:"status_updated_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// SlotInfo identifies the reservation an appointment holds.
func (a *Appointment) SlotInfo() SlotInfo {
	return SlotInfo{Date: a.AppointmentDate, Time: a.AppointmentTime}
}

// SlotOccupancy is one booked pair on a given date, as read by availability.
type SlotOccupancy struct {
	Slot   TimeSlot
	Status Status
}

// SlotInfo is a (date, slot) pair.
type SlotInfo struct {
	Date string   `json:"appointment_date"`
	Time TimeSlot `json:"appointment_time"`
}

// BookingRequest carries the fields a customer submits to book a slot.
type BookingRequest struct {
	CustomerID      string   `json:"-"`
	ProfilePhone    string   `json:"-"`
	VehicleNumber   string   `json:"vehicle_number"`
	VehicleType     string   `json:"vehicle_type"`
	ServiceType     string   `json:"service_type"`
	PhoneNumber     string   `json:"phone_number"`
	AppointmentDate string   `json:"appointment_date"`
	AppointmentTime TimeSlot `json:"appointment_time"`
	Status          Status   `json:"status_"`
}

// Patch lists the mutable fields of an appointment. A nil field keeps the
// stored value.
type Patch struct {
	AppointmentDate *string   `json:"appointment_date,omitempty"`
	AppointmentTime *TimeSlot `json:"appointment_time,omitempty"`
	VehicleNumber   *string   `json:"vehicle_number,omitempty"`
	VehicleType     *string   `json:"vehicle_type,omitempty"`
	ServiceType     *string   `json:"service_type,omitempty"`
	PhoneNumber     *string   `json:"phone_number,omitempty"`
	Status          *Status   `json:"status_,omitempty"`
}

// Apply resolves the patch against a stored record and returns the full
// replacement record. The input is not modified.
func (p Patch) Apply(prev *Appointment) *Appointment {
	next := *prev
	if p.AppointmentDate != nil {
		next.AppointmentDate = *p.AppointmentDate
	}
	if p.AppointmentTime != nil {
		next.AppointmentTime = *p.AppointmentTime
	}
	if p.VehicleNumber != nil {
		next.VehicleNumber = *p.VehicleNumber
	}
	if p.VehicleType != nil {
		next.VehicleType = *p.VehicleType
	}
	if p.ServiceType != nil {
		next.ServiceType = *p.ServiceType
	}
	if p.PhoneNumber != nil {
		next.PhoneNumber = *p.PhoneNumber
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	return &next
}

// BlankFields names the required text fields the patch would set to blank.
// A blank slot is caught by IsValidSlot instead.
func (p Patch) BlankFields() []string {
	var blank []string
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"appointment_date", p.AppointmentDate},
		{"vehicle_number", p.VehicleNumber},
		{"vehicle_type", p.VehicleType},
		{"service_type", p.ServiceType},
	} {
		if f.v != nil && strings.TrimSpace(*f.v) == "" {
			blank = append(blank, f.name)
		}
	}
	return blank
}

// StatusChange is the outcome of a status update.
type StatusChange struct {
	AppointmentID   int64     `json:"appointment_id"`
	PreviousStatus  Status    `json:"previous_status"`
	Status          Status    `json:"status_"`
	StatusUpdatedAt time.Time `json:"status_updated_at"`
}

// RescheduleResult reports where an appointment moved from and to.
type RescheduleResult struct {
	Previous    SlotInfo     `json:"previous"`
	Current     SlotInfo     `json:"current"`
	Appointment *Appointment `json:"appointment"`
}

// Moved reports whether the reservation changed.
func (r *RescheduleResult) Moved() bool {
	return r.Previous != r.Current
}
