package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, lawyer_id, client_id, lawyer_name, client_name, starts_at, duration_min,
	type, status, notes, cancelled_by, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var cancelledBy *string

	err := row.Scan(
		&a.ID,
		&a.LawyerID,
		&a.ClientID,
		&a.LawyerName,
		&a.ClientName,
		&a.Date,
		&a.Duration,
		&a.Type,
		&a.Status,
		&a.Notes,
		&cancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.CancelledBy = cancelledBy
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func getByID(ctx context.Context, q querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func updateStatus(ctx context.Context, q querier, id uuid.UUID, from, to AppointmentStatus, actor string) (*Appointment, error) {
	var cancelledBy *string
	if to == StatusCancelled {
		cancelledBy = &actor
	}

	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_by = COALESCE($4, cancelled_by),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, cancelledBy)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		// distinguish a missing row from a lost race
		if _, getErr := getByID(ctx, q, id); getErr == nil {
			return nil, ErrStatusChanged
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

func listForParty(ctx context.Context, q querier, column, partyID string, f ListFilter) ([]Appointment, error) {
	where := []string{column + " = $1"}
	args := []any{partyID}

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("starts_at + make_interval(mins => duration_min) > $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("starts_at < $%d", len(args)))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + strings.Join(where, " AND ") + ` ORDER BY starts_at`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments by %s: %w", column, err)
	}
	return collectAppointments(rows)
}

// Interface methods

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getByID(ctx, r.pool, id)
}

func (r *PgRepository) ListByLawyer(ctx context.Context, lawyerID string, f ListFilter) ([]Appointment, error) {
	return listForParty(ctx, r.pool, "lawyer_id", lawyerID, f)
}

func (r *PgRepository) ListByClient(ctx context.Context, clientID string, f ListFilter) ([]Appointment, error) {
	return listForParty(ctx, r.pool, "client_id", clientID, f)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, actor string) (*Appointment, error) {
	return updateStatus(ctx, r.pool, id, from, to, actor)
}

// WithinPartyTx serializes on transaction-scoped advisory locks derived from
// the party ids, so check-then-write sequences for the same lawyer or client
// run one at a time even across processes.
func (r *PgRepository) WithinPartyTx(ctx context.Context, lawyerID, clientID string, fn func(ctx context.Context, tx PartyTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin party tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	keys := []string{"lawyer:" + lawyerID, "client:" + clientID}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}

	if err := fn(ctx, &pgPartyTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit party tx: %w", err)
	}
	return nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, startedBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND starts_at < $1
	`, startedBefore)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type pgPartyTx struct {
	tx pgx.Tx
}

func (t *pgPartyTx) ActiveForParties(ctx context.Context, lawyerID, clientID string, from, to time.Time) ([]Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE (lawyer_id = $1 OR client_id = $2)
		  AND status <> 'CANCELLED'
		  AND starts_at < $4
		  AND starts_at + make_interval(mins => duration_min) > $3
		ORDER BY starts_at
	`, lawyerID, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load party appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (t *pgPartyTx) Create(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, lawyer_id, client_id, lawyer_name, client_name, starts_at, duration_min,
			type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.LawyerID, a.ClientID, a.LawyerName, a.ClientName, a.Date, a.Duration, a.Type, a.Status, a.Notes)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgPartyTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, actor string) (*Appointment, error) {
	return updateStatus(ctx, t.tx, id, from, to, actor)
}
