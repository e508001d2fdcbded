package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
)

// PostgresFeeScheduleRepository reads the single active fee schedule
type PostgresFeeScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFeeScheduleRepository(pool *pgxpool.Pool) *PostgresFeeScheduleRepository {
	return &PostgresFeeScheduleRepository{pool: pool}
}

func (r *PostgresFeeScheduleRepository) ActiveSchedule(ctx context.Context) (*fees.Schedule, error) {
	query := `
		SELECT id, fixed_fee, tier1_max, tier1_percentage, tier2_max, tier2_percentage, tier3_max, tier3_percentage
		FROM fee_schedules
		WHERE active
	`
	var s fees.Schedule
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.ID,
		&s.FixedFee,
		&s.Tier1Max,
		&s.Tier1Percentage,
		&s.Tier2Max,
		&s.Tier2Percentage,
		&s.Tier3Max,
		&s.Tier3Percentage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fees.ErrNoActiveSchedule
		}
		return nil, fmt.Errorf("failed to get fee schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Activate stores schedule and makes it the only active one.
func (r *PostgresFeeScheduleRepository) Activate(ctx context.Context, schedule *fees.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `UPDATE fee_schedules SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("failed to deactivate fee schedules: %w", err)
	}
	query := `
		INSERT INTO fee_schedules (id, fixed_fee, tier1_max, tier1_percentage, tier2_max, tier2_percentage, tier3_max, tier3_percentage, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	`
	if _, err := tx.Exec(ctx, query,
		schedule.ID,
		schedule.FixedFee,
		schedule.Tier1Max,
		schedule.Tier1Percentage,
		schedule.Tier2Max,
		schedule.Tier2Percentage,
		schedule.Tier3Max,
		schedule.Tier3Percentage,
	); err != nil {
		return fmt.Errorf("failed to insert fee schedule: %w", err)
	}
	return tx.Commit(ctx)
}

// PostgresFeeChargeRepository implements fees.ChargeRepository
type PostgresFeeChargeRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFeeChargeRepository(pool *pgxpool.Pool) *PostgresFeeChargeRepository {
	return &PostgresFeeChargeRepository{pool: pool}
}

func (r *PostgresFeeChargeRepository) CreateCharge(ctx context.Context, tx pgx.Tx, charge *fees.Charge) error {
	query := `
		INSERT INTO fee_charges (id, item_id, seller_id, fee_schedule_id, sale_price, fee_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		charge.ID,
		charge.ItemID,
		charge.SellerID,
		charge.ScheduleID,
		charge.SalePrice,
		charge.Amount,
		charge.Status,
		charge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fee charge: %w", err)
	}
	return nil
}

func (r *PostgresFeeChargeRepository) ListPendingCharges(ctx context.Context, limit int) ([]*fees.Charge, error) {
	query := `
		SELECT id, item_id, seller_id, fee_schedule_id, sale_price, fee_amount, status, attempts,
		       COALESCE(last_error, ''), created_at, settled_at
		FROM fee_charges
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending fee charges: %w", err)
	}
	defer rows.Close()

	var result []*fees.Charge
	for rows.Next() {
		var c fees.Charge
		if err := rows.Scan(
			&c.ID,
			&c.ItemID,
			&c.SellerID,
			&c.ScheduleID,
			&c.SalePrice,
			&c.Amount,
			&c.Status,
			&c.Attempts,
			&c.LastError,
			&c.CreatedAt,
			&c.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fee charge: %w", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fee charges: %w", err)
	}
	return result, nil
}

func (r *PostgresFeeChargeRepository) MarkSettled(ctx context.Context, id uuid.UUID, settledAt time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE fee_charges SET status = 'settled', settled_at = $1, last_error = NULL WHERE id = $2`,
		settledAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark fee charge settled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("fee charge %s not found", id)
	}
	return nil
}

func (r *PostgresFeeChargeRepository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE fee_charges SET attempts = attempts + 1, last_error = $1 WHERE id = $2 AND status = 'pending'`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to record fee charge failure: %w", err)
	}
	return nil
}
