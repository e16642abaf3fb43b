package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"charstudio/internal/models"
)

const userCreditsColumns = `
	user_id, daily_credits, used_credits, remaining_credits, last_reset_date,
	total_credits_earned, total_credits_spent, created_at, updated_at
`

const creditTransactionColumns = `
	id, user_id, api_endpoint, credit_cost, operation_type, description,
	request_data, status, created_at, completed_at
`

// CreditsRepository handles user_credits and credit_transactions rows.
// Mutating methods take the transaction they must run in; the service layer
// owns the transaction boundary.
type CreditsRepository struct {
	db *DB
}

// NewCreditsRepository creates a new credits repository
func NewCreditsRepository(db *DB) *CreditsRepository {
	return &CreditsRepository{db: db}
}

// Get retrieves a user's balance row outside any transaction.
func (r *CreditsRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_credits WHERE user_id = $1`, userCreditsColumns)

	var uc models.UserCredits
	err := r.db.conn.GetContext(ctx, &uc, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserCreditsNotFound
		}
		return nil, fmt.Errorf("failed to get user credits: %w", err)
	}

	return &uc, nil
}

// GetForUpdate retrieves a user's balance row with a row lock, serializing
// concurrent mutations of the same user.
func (r *CreditsRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*models.UserCredits, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_credits WHERE user_id = $1 FOR UPDATE`, userCreditsColumns)

	var uc models.UserCredits
	err := tx.GetContext(ctx, &uc, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserCreditsNotFound
		}
		return nil, fmt.Errorf("failed to lock user credits: %w", err)
	}

	return &uc, nil
}

// Insert creates a balance row if none exists for the user. Returns true
// when the row was inserted, false when a concurrent caller won the race.
func (r *CreditsRepository) Insert(ctx context.Context, tx *sqlx.Tx, uc *models.UserCredits) (bool, error) {
	query := `
		INSERT INTO user_credits (
			user_id, daily_credits, used_credits, remaining_credits, last_reset_date,
			total_credits_earned, total_credits_spent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, query,
		uc.UserID, uc.DailyCredits, uc.UsedCredits, uc.RemainingCredits, uc.LastResetDate,
		uc.TotalCreditsEarned, uc.TotalCreditsSpent, uc.CreatedAt, uc.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert user credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// UpdateBalance writes the mutable balance fields of a locked row.
func (r *CreditsRepository) UpdateBalance(ctx context.Context, tx *sqlx.Tx, uc *models.UserCredits) error {
	query := `
		UPDATE user_credits
		SET used_credits = $2,
		    remaining_credits = $3,
		    total_credits_earned = $4,
		    total_credits_spent = $5,
		    updated_at = $6
		WHERE user_id = $1
	`

	result, err := tx.ExecContext(ctx, query,
		uc.UserID, uc.UsedCredits, uc.RemainingCredits,
		uc.TotalCreditsEarned, uc.TotalCreditsSpent, uc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserCreditsNotFound
	}
	return nil
}

// ResetIfUnchanged performs the conditional daily reset. The WHERE clause on
// last_reset_date is the optimistic guard: of two racing resetters only one
// matches the previously read timestamp, so the allowance is restored once.
// Returns true when this caller performed the reset.
func (r *CreditsRepository) ResetIfUnchanged(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, seenLastReset, now time.Time) (bool, error) {
	query := `
		UPDATE user_credits
		SET used_credits = 0,
		    remaining_credits = daily_credits,
		    last_reset_date = $3,
		    updated_at = $3
		WHERE user_id = $1 AND last_reset_date = $2
	`

	result, err := tx.ExecContext(ctx, query, userID, seenLastReset, now)
	if err != nil {
		return false, fmt.Errorf("failed to reset user credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// InsertTransaction appends a ledger entry. Must run in the same transaction
// as the balance mutation it documents.
func (r *CreditsRepository) InsertTransaction(ctx context.Context, tx *sqlx.Tx, t *models.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (
			id, user_id, api_endpoint, credit_cost, operation_type, description,
			request_data, status, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.ExecContext(ctx, query,
		t.ID, t.UserID, t.APIEndpoint, t.CreditCost, t.OperationType, t.Description,
		t.RequestData, t.Status, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}

// History returns a user's ledger entries newest-first.
func (r *CreditsRepository) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, creditTransactionColumns)

	var txs []models.CreditTransaction
	err := r.db.conn.SelectContext(ctx, &txs, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit history: %w", err)
	}
	return txs, nil
}

// GetTransaction retrieves a single ledger entry by ID.
func (r *CreditsRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM credit_transactions WHERE id = $1`, creditTransactionColumns)

	var t models.CreditTransaction
	err := r.db.conn.GetContext(ctx, &t, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get credit transaction: %w", err)
	}
	return &t, nil
}
