package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Get(ctx context.Context, lawyerID string) (*WeeklyAvailability, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT weekly
		FROM lawyer_availability
		WHERE lawyer_id = $1
	`, lawyerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select availability: %w", err)
	}

	w := NewWeeklyAvailability()
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode availability for %s: %w", lawyerID, err)
	}
	return &w, nil
}

func (r *PgRepository) Set(ctx context.Context, lawyerID string, w WeeklyAvailability) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO lawyer_availability (lawyer_id, weekly, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (lawyer_id)
		DO UPDATE SET weekly = EXCLUDED.weekly, updated_at = now()
	`, lawyerID, data)
	if err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

// ListLawyerIDs returns lawyers that have saved a schedule, for tooling.
func (r *PgRepository) ListLawyerIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lawyer_id FROM lawyer_availability ORDER BY lawyer_id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list lawyers: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan lawyers: %w", err)
	}
	return ids, nil
}
