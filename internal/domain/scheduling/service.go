package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	appointments AppointmentRepository
	clock        Clock
	loc          *time.Location
	logger       zerolog.Logger
}

// NewService wires the scheduler. loc is the service center's local time
// zone; "today" and the current time of day are evaluated in it.
func NewService(appt AppointmentRepository, clock Clock, loc *time.Location, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{appointments: appt, clock: clock, loc: loc, logger: logger}
}

func (s *Service) now() time.Time {
	return s.clock.Now().In(s.loc)
}

// checkDate validates a YYYY-MM-DD value and rejects dates before today.
// It also reports whether the date is today.
func (s *Service) checkDate(raw string) (isToday bool, err error) {
	if !datePattern.MatchString(raw) {
		return false, fmt.Errorf("%w: use YYYY-MM-DD format", ErrInvalidDate)
	}
	d, err := time.ParseInLocation(DateLayout, raw, s.loc)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, raw)
	}

	now := s.now()
	y, m, day := now.Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, s.loc)
	if d.Before(today) {
		return false, fmt.Errorf("%w: %s is in the past", ErrInvalidDate, raw)
	}
	return d.Equal(today), nil
}

// startedToday reports whether slot has already begun on the current day.
func (s *Service) startedToday(slot TimeSlot) bool {
	now := s.now()
	return slot.Minutes() <= now.Hour()*60+now.Minute()
}

// -- Availability --

// AvailableSlots returns the free catalog slots for date in day order. For
// today only slots starting strictly after the current minute are returned.
// The result is a snapshot; Book and Reschedule re-check atomically.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]TimeSlot, error) {
	isToday, err := s.checkDate(date)
	if err != nil {
		return nil, err
	}

	booked, err := s.appointments.ListByDate(ctx, date)
	if err != nil {
		return nil, classify("list appointments by date", err)
	}
	taken := make(map[TimeSlot]bool, len(booked))
	for _, b := range booked {
		taken[b.Slot] = true
	}

	available := make([]TimeSlot, 0, len(catalog))
	for _, slot := range catalog {
		if taken[slot] {
			continue
		}
		if isToday && s.startedToday(slot) {
			continue
		}
		available = append(available, slot)
	}
	return available, nil
}

// -- Reservation --

// reserve persists a and claims its (date, slot) in the same store
// operation. With excludeID == 0 a new row is inserted; otherwise the row
// excludeID is rewritten, so it never conflicts with its own current slot.
func (s *Service) reserve(ctx context.Context, a *Appointment, excludeID int64) error {
	var err error
	if excludeID == 0 {
		err = s.appointments.Create(ctx, a)
	} else {
		a.ID = excludeID
		err = s.appointments.Update(ctx, a)
	}

	if errors.Is(err, ErrSlotTaken) {
		s.logger.Warn().
			Str("date", a.AppointmentDate).
			Str("slot", a.AppointmentTime.String()).
			Int64("exclude_id", excludeID).
			Msg("slot reservation rejected")
	}
	return classify("reserve slot", err)
}

// -- Booking --

func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	var missing []string
	for field, v := range map[string]string{
		"customer_id":      req.CustomerID,
		"vehicle_number":   req.VehicleNumber,
		"vehicle_type":     req.VehicleType,
		"service_type":     req.ServiceType,
		"appointment_date": req.AppointmentDate,
		"appointment_time": string(req.AppointmentTime),
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	isToday, err := s.checkDate(req.AppointmentDate)
	if err != nil {
		return nil, err
	}
	if !IsValidSlot(req.AppointmentTime) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlot, req.AppointmentTime)
	}
	if isToday && s.startedToday(req.AppointmentTime) {
		return nil, fmt.Errorf("%w: %s has already started today", ErrInvalidSlot, req.AppointmentTime)
	}

	status := req.Status
	if status == "" {
		status = StatusPending
	}
	if !IsValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		phone = req.ProfilePhone
	}

	a := &Appointment{
		CustomerID:      req.CustomerID,
		VehicleNumber:   strings.TrimSpace(req.VehicleNumber),
		VehicleType:     strings.TrimSpace(req.VehicleType),
		ServiceType:     strings.TrimSpace(req.ServiceType),
		PhoneNumber:     phone,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
		Status:          status,
		StatusUpdatedAt: s.now().UTC(),
	}
	if err := s.reserve(ctx, a, 0); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("appointment_id", a.ID).
		Str("customer_id", a.CustomerID).
		Str("date", a.AppointmentDate).
		Str("slot", a.AppointmentTime.String()).
		Msg("appointment booked")
	return a, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id int64) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, classify("get appointment", err)
	}
	return a, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*Appointment, error) {
	items, err := s.appointments.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, classify("list appointments by customer", err)
	}
	return items, nil
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appointments.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, classify("list appointments", err)
	}
	return items, total, nil
}

// -- Status --

// SetStatus moves an appointment to status. statusUpdatedAt is refreshed on
// every successful call, including Confirmed -> Confirmed. An invalid status
// is rejected before the record is read.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) (*StatusChange, error) {
	if !IsValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var change *StatusChange
	err := s.appointments.InTx(ctx, func(ctx context.Context) error {
		prev, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		if err := s.appointments.UpdateStatus(ctx, id, status, at); err != nil {
			return err
		}
		change = &StatusChange{
			AppointmentID:   id,
			PreviousStatus:  prev.Status,
			Status:          status,
			StatusUpdatedAt: at,
		}
		return nil
	})
	if err != nil {
		return nil, classify("set status", err)
	}

	s.logger.Info().
		Int64("appointment_id", id).
		Str("previous_status", string(change.PreviousStatus)).
		Str("status", string(change.Status)).
		Msg("appointment status updated")
	return change, nil
}

// -- Reschedule --

// Reschedule applies patch to appointment id. Omitted fields keep their stored
// values; required fields cannot be blanked. A changed (date, slot) must be
// bookable now and is claimed through reserve with the appointment itself
// excluded. On any failure nothing is written.
func (s *Service) Reschedule(ctx context.Context, id int64, patch Patch) (*RescheduleResult, error) {
	if patch.AppointmentTime != nil && !IsValidSlot(*patch.AppointmentTime) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlot, *patch.AppointmentTime)
	}
	if patch.Status != nil && !IsValidStatus(*patch.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
	}
	if blank := patch.BlankFields(); len(blank) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(blank, ", "))
	}

	var result *RescheduleResult
	err := s.appointments.InTx(ctx, func(ctx context.Context) error {
		prev, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		next := patch.Apply(prev)
		moved := next.SlotInfo() != prev.SlotInfo()

		if moved {
			isToday, err := s.checkDate(next.AppointmentDate)
			if err != nil {
				return err
			}
			if isToday && s.startedToday(next.AppointmentTime) {
				return fmt.Errorf("%w: %s has already started today", ErrInvalidSlot, next.AppointmentTime)
			}
		}

		if next.Status != prev.Status {
			next.StatusUpdatedAt = s.now().UTC()
		}

		if *next != *prev {
			if err := s.reserve(ctx, next, id); err != nil {
				return err
			}
		}

		result = &RescheduleResult{
			Previous:    prev.SlotInfo(),
			Current:     next.SlotInfo(),
			Appointment: next,
		}
		return nil
	})
	if err != nil {
		return nil, classify("reschedule", err)
	}

	s.logger.Info().
		Int64("appointment_id", id).
		Str("from_date", result.Previous.Date).
		Str("from_slot", result.Previous.Time.String()).
		Str("to_date", result.Current.Date).
		Str("to_slot", result.Current.Time.String()).
		Msg("appointment updated")
	return result, nil
}

// -- Delete --

// Delete removes the record. Its (date, slot) becomes bookable
// immediately; deletion is the only way a slot is released.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.appointments.Delete(ctx, id); err != nil {
		return classify("delete appointment", err)
	}
	s.logger.Info().Int64("appointment_id", id).Msg("appointment deleted")
	return nil
}
