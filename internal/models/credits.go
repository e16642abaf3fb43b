package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SystemEndpoint marks ledger entries that are not tied to a billable API
// call (admin grants, daily resets, refunds).
const SystemEndpoint = "system"

// OperationType categorises ledger entries by business reason.
type OperationType string

const (
	OpAPICall    OperationType = "api_call"
	OpAdminGrant OperationType = "admin_grant"
	OpDailyReset OperationType = "daily_reset"
	OpRefund     OperationType = "refund"
)

// Valid reports whether the operation type is one of the known values.
func (o OperationType) Valid() bool {
	switch o {
	case OpAPICall, OpAdminGrant, OpDailyReset, OpRefund:
		return true
	}
	return false
}

// TxStatus represents the lifecycle state of a credit transaction.
// Completed and failed are terminal; a committed ledger row is immutable.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TxStatus) Terminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

// UserCredits is the per-user balance row. It is created lazily on first
// access and mutated only through the credit service.
type UserCredits struct {
	UserID             uuid.UUID `db:"user_id" json:"user_id"`
	DailyCredits       int       `db:"daily_credits" json:"daily_credits"`
	UsedCredits        int       `db:"used_credits" json:"used_credits"`
	RemainingCredits   int       `db:"remaining_credits" json:"remaining_credits"`
	LastResetDate      time.Time `db:"last_reset_date" json:"last_reset_date"`
	TotalCreditsEarned int       `db:"total_credits_earned" json:"total_credits_earned"`
	TotalCreditsSpent  int       `db:"total_credits_spent" json:"total_credits_spent"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. CreditCost is signed:
// negative for spends, positive for grants, resets and refunds.
type CreditTransaction struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	APIEndpoint   string          `db:"api_endpoint" json:"api_endpoint"`
	CreditCost    int             `db:"credit_cost" json:"credit_cost"`
	OperationType OperationType   `db:"operation_type" json:"operation_type"`
	Description   string          `db:"description" json:"description"`
	RequestData   json.RawMessage `db:"request_data" json:"request_data,omitempty"`
	Status        TxStatus        `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// APICostConfig prices one (endpoint, method) pair. Retired rules are
// disabled rather than deleted.
type APICostConfig struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Endpoint    string    `db:"endpoint" json:"endpoint"`
	Method      string    `db:"method" json:"method"`
	CreditCost  int       `db:"credit_cost" json:"credit_cost"`
	Description string    `db:"description" json:"description"`
	IsEnabled   bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
