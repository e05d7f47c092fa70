package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// appointmentRecord is the gorm mapping of the appointment table. The composite
// unique index on (appointment_date, appointment_time) is what makes a
// reservation atomic.
type appointmentRecord struct {
	ID              int64          `gorm:"column:appointment_id;primaryKey;autoIncrement"`
	CustomerID      string         `gorm:"column:customer_id;type:text;not null;index:idx_appointment_customer"`
	VehicleNumber   string         `gorm:"column:vehicle_number;type:text;not null"`
	VehicleType     string         `gorm:"column:vehicle_type;type:text;not null"`
	ServiceType     string         `gorm:"column:service_type;type:text;not null"`
	PhoneNumber     string         `gorm:"column:phone_number;type:text;not null"`
	AppointmentDate datatypes.Date `gorm:"column:appointment_date;type:date;not null;uniqueIndex:uq_appointment_date_time,priority:1"`
	AppointmentTime string         `gorm:"column:appointment_time;type:varchar(5);not null;uniqueIndex:uq_appointment_date_time,priority:2"`
	Status          string         `gorm:"column:status_;type:varchar(16);not null"`
	StatusUpdatedAt time.Time      `gorm:"column:status_updated_at;not null"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null"`
}

func (appointmentRecord) TableName() string { return "appointment" }

func toRecord(a *Appointment) (*appointmentRecord, error) {
	d, err := time.ParseInLocation(DateLayout, a.AppointmentDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, a.AppointmentDate)
	}
	return &appointmentRecord{
		ID:              a.ID,
		CustomerID:      a.CustomerID,
		VehicleNumber:   a.VehicleNumber,
		VehicleType:     a.VehicleType,
		ServiceType:     a.ServiceType,
		PhoneNumber:     a.PhoneNumber,
		AppointmentDate: datatypes.Date(d),
		AppointmentTime: string(a.AppointmentTime),
		Status:          string(a.Status),
		StatusUpdatedAt: a.StatusUpdatedAt,
		CreatedAt:       a.CreatedAt,
	}, nil
}

func (rec *appointmentRecord) toModel() *Appointment {
	return &Appointment{
		ID:              rec.ID,
		CustomerID:      rec.CustomerID,
		VehicleNumber:   rec.VehicleNumber,
		VehicleType:     rec.VehicleType,
		ServiceType:     rec.ServiceType,
		PhoneNumber:     rec.PhoneNumber,
		AppointmentDate: time.Time(rec.AppointmentDate).Format(DateLayout),
		AppointmentTime: TimeSlot(rec.AppointmentTime),
		Status:          Status(rec.Status),
		StatusUpdatedAt: rec.StatusUpdatedAt,
		CreatedAt:       rec.CreatedAt,
	}
}

// AutoMigrateAppointments creates or updates the appointment table through gorm.
func AutoMigrateAppointments(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&appointmentRecord{})
}

type gormTxKey struct{}

type appointmentRepoGorm struct {
	db *gorm.DB
}

// NewAppointmentRepoGorm expects a handle opened with TranslateError so that
// duplicate keys surface as gorm.ErrDuplicatedKey.
func NewAppointmentRepoGorm(gdb *gorm.DB) AppointmentRepository {
	return &appointmentRepoGorm{db: gdb}
}

func (r *appointmentRepoGorm) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func gormReadErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func gormWriteErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoGorm) Create(ctx context.Context, a *Appointment) error {
	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	rec.ID = 0
	if err := r.conn(ctx).Create(rec).Error; err != nil {
		return gormWriteErr(err)
	}
	a.ID = rec.ID
	a.CreatedAt = rec.CreatedAt
	return nil
}

func (r *appointmentRepoGorm) get(q *gorm.DB, id int64) (*Appointment, error) {
	var rec appointmentRecord
	if err := q.First(&rec, "appointment_id = ?", id).Error; err != nil {
		return nil, gormReadErr(err)
	}
	return rec.toModel(), nil
}

func (r *appointmentRepoGorm) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return r.get(r.conn(ctx), id)
}

func (r *appointmentRepoGorm) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	q := r.conn(ctx)
	// sqlite serialises writers itself and has no row-lock syntax.
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(q, id)
}

func (r *appointmentRepoGorm) ListByDate(ctx context.Context, date string) ([]SlotOccupancy, error) {
	d, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	var recs []appointmentRecord
	if err := r.conn(ctx).
		Select("appointment_time", "status_").
		Where("appointment_date = ?", datatypes.Date(d)).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]SlotOccupancy, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SlotOccupancy{Slot: TimeSlot(rec.AppointmentTime), Status: Status(rec.Status)})
	}
	return out, nil
}

func toModels(recs []appointmentRecord) []*Appointment {
	items := make([]*Appointment, 0, len(recs))
	for i := range recs {
		items = append(items, recs[i].toModel())
	}
	return items
}

func (r *appointmentRepoGorm) ListByCustomer(ctx context.Context, customerID string) ([]*Appointment, error) {
	var recs []appointmentRecord
	if err := r.conn(ctx).
		Where("customer_id = ?", customerID).
		Order("appointment_id DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return toModels(recs), nil
}

func (r *appointmentRepoGorm) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	var total int64
	if err := r.conn(ctx).Model(&appointmentRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []appointmentRecord
	if err := r.conn(ctx).
		Order("appointment_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return toModels(recs), int(total), nil
}

func (r *appointmentRepoGorm) Update(ctx context.Context, a *Appointment) error {
	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	res := r.conn(ctx).
		Model(&appointmentRecord{}).
		Where("appointment_id = ?", a.ID).
		Updates(map[string]any{
			"vehicle_number":    rec.VehicleNumber,
			"vehicle_type":      rec.VehicleType,
			"service_type":      rec.ServiceType,
			"phone_number":      rec.PhoneNumber,
			"appointment_date":  rec.AppointmentDate,
			"appointment_time":  rec.AppointmentTime,
			"status_":           rec.Status,
			"status_updated_at": rec.StatusUpdatedAt,
		})
	if res.Error != nil {
		return gormWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoGorm) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	res := r.conn(ctx).
		Model(&appointmentRecord{}).
		Where("appointment_id = ?", id).
		Updates(map[string]any{"status_": string(status), "status_updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoGorm) Delete(ctx context.Context, id int64) error {
	res := r.conn(ctx).Delete(&appointmentRecord{}, "appointment_id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoGorm) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, gormTxKey{}, tx))
	})
}
