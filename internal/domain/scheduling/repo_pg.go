package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicecenter/scheduler/internal/platform/db"
)

const pgUniqueViolation = "23505"

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `appointment_id, customer_id, vehicle_number, vehicle_type, service_type,
	phone_number, appointment_date, appointment_time, status_, status_updated_at, created_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	err := row.Scan(&a.ID, &a.CustomerID, &a.VehicleNumber, &a.VehicleType, &a.ServiceType,
		&a.PhoneNumber, &date, &a.AppointmentTime, &a.Status, &a.StatusUpdatedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.AppointmentDate = date.Format(DateLayout)
	return &a, nil
}

func (r *appointmentRepoPG) scanAll(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// pgWriteErr maps a duplicate (appointment_date, appointment_time) to ErrSlotTaken.
func pgWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w (%s)", ErrSlotTaken, pgErr.ConstraintName)
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (customer_id, vehicle_number, vehicle_type, service_type,
			phone_number, appointment_date, appointment_time, status_, status_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9)
		RETURNING appointment_id, created_at`,
		a.CustomerID, a.VehicleNumber, a.VehicleType, a.ServiceType,
		a.PhoneNumber, a.AppointmentDate, a.AppointmentTime, a.Status, a.StatusUpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	return pgWriteErr(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE appointment_id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE appointment_id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, date string) ([]SlotOccupancy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT appointment_time, status_ FROM appointment WHERE appointment_date = $1::date`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SlotOccupancy
	for rows.Next() {
		var o SlotOccupancy
		if err := rows.Scan(&o.Slot, &o.Status); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) ListByCustomer(ctx context.Context, customerID string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE customer_id = $1 ORDER BY appointment_id DESC`, customerID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *appointmentRepoPG) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment ORDER BY appointment_id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET vehicle_number=$2, vehicle_type=$3, service_type=$4, phone_number=$5,
			appointment_date=$6::date, appointment_time=$7, status_=$8, status_updated_at=$9
		WHERE appointment_id = $1`,
		a.ID, a.VehicleNumber, a.VehicleType, a.ServiceType, a.PhoneNumber,
		a.AppointmentDate, a.AppointmentTime, a.Status, a.StatusUpdatedAt)
	if err != nil {
		return pgWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status_ = $2, status_updated_at = $3 WHERE appointment_id = $1`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE appointment_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}
