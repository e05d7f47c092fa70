package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// sqlQuerier is the query surface shared by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTxKey struct{}

// appointmentRepoSQL is the database/sql store used with the lib/pq driver.
type appointmentRepoSQL struct {
	db *sql.DB
}

func NewAppointmentRepoSQL(db *sql.DB) AppointmentRepository {
	return &appointmentRepoSQL{db: db}
}

func (r *appointmentRepoSQL) conn(ctx context.Context) sqlQuerier {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLAppt(row rowScanner) (*Appointment, error) {
	var a Appointment
	var date time.Time
	err := row.Scan(&a.ID, &a.CustomerID, &a.VehicleNumber, &a.VehicleType, &a.ServiceType,
		&a.PhoneNumber, &date, &a.AppointmentTime, &a.Status, &a.StatusUpdatedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.AppointmentDate = date.Format(DateLayout)
	return &a, nil
}

func sqlWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return fmt.Errorf("%w (%s)", ErrSlotTaken, pqErr.Constraint)
	}
	return err
}

func (r *appointmentRepoSQL) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO appointment (customer_id, vehicle_number, vehicle_type, service_type,
			phone_number, appointment_date, appointment_time, status_, status_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9)
		RETURNING appointment_id, created_at`,
		a.CustomerID, a.VehicleNumber, a.VehicleType, a.ServiceType,
		a.PhoneNumber, a.AppointmentDate, string(a.AppointmentTime), string(a.Status), a.StatusUpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	return sqlWriteErr(err)
}

func (r *appointmentRepoSQL) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return scanSQLAppt(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE appointment_id = $1`, id))
}

func (r *appointmentRepoSQL) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return scanSQLAppt(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE appointment_id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoSQL) ListByDate(ctx context.Context, date string) ([]SlotOccupancy, error) {
	rows, err := r.conn(ctx).QueryContext(ctx,
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

func (r *appointmentRepoSQL) list(ctx context.Context, query string, args ...any) ([]*Appointment, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := scanSQLAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoSQL) ListByCustomer(ctx context.Context, customerID string) ([]*Appointment, error) {
	return r.list(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE customer_id = $1 ORDER BY appointment_id DESC`, customerID)
}

func (r *appointmentRepoSQL) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM appointment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx,
		`SELECT `+apptCols+` FROM appointment ORDER BY appointment_id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoSQL) Update(ctx context.Context, a *Appointment) error {
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE appointment SET vehicle_number = $2, vehicle_type = $3, service_type = $4, phone_number = $5,
			appointment_date = $6::date, appointment_time = $7, status_ = $8, status_updated_at = $9
		WHERE appointment_id = $1`,
		a.ID, a.VehicleNumber, a.VehicleType, a.ServiceType, a.PhoneNumber,
		a.AppointmentDate, string(a.AppointmentTime), string(a.Status), a.StatusUpdatedAt)
	if err != nil {
		return sqlWriteErr(err)
	}
	return affectedOrNotFound(res)
}

func (r *appointmentRepoSQL) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE appointment SET status_ = $2, status_updated_at = $3 WHERE appointment_id = $1`,
		id, string(status), at)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *appointmentRepoSQL) Delete(ctx context.Context, id int64) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM appointment WHERE appointment_id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *appointmentRepoSQL) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
