// Package credits implements the credit ledger that gates paid API
// operations behind a per-user spendable balance with a daily refill.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"charstudio/internal/models"
	"charstudio/internal/storage"
	"charstudio/internal/utils"
)

// CheckStatus is the outcome of an advisory balance check.
type CheckStatus string

const (
	CheckSufficient   CheckStatus = "SUFFICIENT"
	CheckInsufficient CheckStatus = "INSUFFICIENT"
)

// CheckResult is returned by CheckCredits. It is advisory only: a concurrent
// spend may invalidate it, so ConsumeCredits re-validates inside its own
// transaction.
type CheckResult struct {
	Status          CheckStatus `json:"status"`
	CurrentCredits  int         `json:"current_credits"`
	RequiredCredits int         `json:"required_credits"`
	CanProceed      bool        `json:"can_proceed"`
	Message         string      `json:"message"`
}

// Service is the credit ledger contract consumed by the HTTP layer.
type Service interface {
	GetUserCredits(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error)
	CheckCredits(ctx context.Context, userID uuid.UUID, requiredCost int) (*CheckResult, error)
	ConsumeCredits(ctx context.Context, userID uuid.UUID, apiEndpoint string, cost int) (*models.CreditTransaction, error)
	GrantCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error)
	RefundCredits(ctx context.Context, userID uuid.UUID, amount int, apiEndpoint, reason string) (*models.CreditTransaction, error)
	GetCreditHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error)
	GetAPICostConfig(ctx context.Context, endpoint, method string) (*models.APICostConfig, error)
	UpsertAPICostConfig(ctx context.Context, cfg models.APICostConfig) (*models.APICostConfig, error)
	ListAPICostConfigs(ctx context.Context) ([]models.APICostConfig, error)
	RequiredCost(ctx context.Context, endpoint, method string) (int, error)
}

// LedgerOptions configures a LedgerService.
type LedgerOptions struct {
	// DailyAllowance is the default allowance for lazily created balances.
	DailyAllowance int
	// ResetLocation is the time zone whose calendar-day boundary triggers
	// the daily reset. Defaults to UTC.
	ResetLocation *time.Location
	// HistoryDefaultLimit and HistoryMaxLimit bound GetCreditHistory pages.
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

// LedgerService is the PostgreSQL-backed Service implementation. Construct
// one instance at process start and pass it by reference; it is safe for
// concurrent use.
type LedgerService struct {
	db      *storage.DB
	credits *storage.CreditsRepository
	configs *storage.CostConfigRepository
	logger  *utils.Logger

	dailyAllowance      int
	resetLoc            *time.Location
	historyDefaultLimit int
	historyMaxLimit     int

	// now is swappable in tests
	now func() time.Time
}

// NewLedgerService creates the credit service.
func NewLedgerService(db *storage.DB, opts LedgerOptions, logger *utils.Logger) *LedgerService {
	if opts.DailyAllowance <= 0 {
		opts.DailyAllowance = 100
	}
	if opts.ResetLocation == nil {
		opts.ResetLocation = time.UTC
	}
	if opts.HistoryDefaultLimit <= 0 {
		opts.HistoryDefaultLimit = 50
	}
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = 200
	}
	if logger == nil {
		logger = utils.NewLogger("credits")
	}

	return &LedgerService{
		db:                  db,
		credits:             db.NewCreditsRepository(),
		configs:             db.NewCostConfigRepository(),
		logger:              logger,
		dailyAllowance:      opts.DailyAllowance,
		resetLoc:            opts.ResetLocation,
		historyDefaultLimit: opts.HistoryDefaultLimit,
		historyMaxLimit:     opts.HistoryMaxLimit,
		now:                 time.Now,
	}
}

// GetUserCredits returns the user's balance, creating it with the default
// allowance on first access and applying the daily reset when due. A zero
// balance is not an error; sufficiency is the caller's question.
func (s *LedgerService) GetUserCredits(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	uc, err := s.credits.Get(ctx, userID)
	if errors.Is(err, storage.ErrUserCreditsNotFound) {
		if err := s.initBalance(ctx, userID); err != nil {
			return nil, err
		}
		uc, err = s.credits.Get(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if NeedsReset(now, uc.LastResetDate, s.resetLoc) {
		if err := s.applyDailyReset(ctx, uc, now); err != nil {
			return nil, err
		}
		// Re-read regardless of who won the reset race.
		uc, err = s.credits.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	return uc, nil
}

// initBalance lazily creates the balance row and its initial grant entry.
// A concurrent creator winning the race is not an error; the insert is a
// no-op and the caller re-reads.
func (s *LedgerService) initBalance(ctx context.Context, userID uuid.UUID) error {
	now := s.now().UTC()

	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		uc := &models.UserCredits{
			UserID:             userID,
			DailyCredits:       s.dailyAllowance,
			UsedCredits:        0,
			RemainingCredits:   s.dailyAllowance,
			LastResetDate:      now,
			TotalCreditsEarned: s.dailyAllowance,
			TotalCreditsSpent:  0,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		inserted, err := s.credits.Insert(ctx, tx, uc)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		return s.credits.InsertTransaction(ctx, tx, s.newTransaction(
			userID, models.SystemEndpoint, s.dailyAllowance, models.OpDailyReset,
			"Initial daily credit grant", now,
		))
	})
}

// applyDailyReset restores the daily allowance. The conditional update in
// ResetIfUnchanged makes the reset idempotent under concurrency: the loser
// of the race mutates nothing and logs nothing.
func (s *LedgerService) applyDailyReset(ctx context.Context, uc *models.UserCredits, now time.Time) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		reset, err := s.credits.ResetIfUnchanged(ctx, tx, uc.UserID, uc.LastResetDate, now)
		if err != nil {
			return err
		}
		if !reset {
			return nil
		}

		return s.credits.InsertTransaction(ctx, tx, s.newTransaction(
			uc.UserID, models.SystemEndpoint, uc.DailyCredits, models.OpDailyReset,
			"Daily credit reset", now,
		))
	})
}

// CheckCredits is a side-effect-free advisory comparison of the current
// balance against requiredCost.
func (s *LedgerService) CheckCredits(ctx context.Context, userID uuid.UUID, requiredCost int) (*CheckResult, error) {
	uc, err := s.GetUserCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		CurrentCredits:  uc.RemainingCredits,
		RequiredCredits: requiredCost,
	}

	if uc.RemainingCredits >= requiredCost {
		result.Status = CheckSufficient
		result.CanProceed = true
		result.Message = "Sufficient credits available"
	} else {
		result.Status = CheckInsufficient
		result.CanProceed = false
		result.Message = fmt.Sprintf("Insufficient credits. Required: %d, Available: %d",
			requiredCost, uc.RemainingCredits)
	}

	return result, nil
}

// ConsumeCredits atomically spends cost credits against the user's balance
// and appends the matching ledger entry. The balance is re-read under a row
// lock inside the transaction, so concurrent spends serialize and never
// drive the balance negative. This is the only path that decreases
// remaining credits.
func (s *LedgerService) ConsumeCredits(ctx context.Context, userID uuid.UUID, apiEndpoint string, cost int) (*models.CreditTransaction, error) {
	if cost < 0 {
		return nil, fmt.Errorf("credit cost must be non-negative, got %d", cost)
	}

	// Ensure the row exists and the daily reset is applied before locking.
	if _, err := s.GetUserCredits(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := s.newTransaction(userID, apiEndpoint, -cost, models.OpAPICall,
		fmt.Sprintf("API call to %s", apiEndpoint), now)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		uc, err := s.credits.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if uc.RemainingCredits < cost {
			return &InsufficientCreditsError{Required: cost, Available: uc.RemainingCredits}
		}

		uc.UsedCredits += cost
		uc.RemainingCredits -= cost
		uc.TotalCreditsSpent += cost
		uc.UpdatedAt = now

		if err := s.credits.UpdateBalance(ctx, tx, uc); err != nil {
			return err
		}
		return s.credits.InsertTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("credits consumed", "user_id", userID, "endpoint", apiEndpoint, "cost", cost)
	return entry, nil
}

// GrantCredits atomically adds amount to the user's balance without a
// sufficiency check. The baseline daily allowance is unaffected.
func (s *LedgerService) GrantCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) (*models.CreditTransaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant amount must be non-negative, got %d", amount)
	}

	if _, err := s.GetUserCredits(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := s.newTransaction(userID, models.SystemEndpoint, amount, models.OpAdminGrant, reason, now)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		uc, err := s.credits.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		uc.RemainingCredits += amount
		uc.TotalCreditsEarned += amount
		uc.UpdatedAt = now

		if err := s.credits.UpdateBalance(ctx, tx, uc); err != nil {
			return err
		}
		return s.credits.InsertTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits granted", "user_id", userID, "amount", amount, "reason", reason)
	return entry, nil
}

// RefundCredits atomically returns amount credits to the user, unwinding a
// prior spend. Used credits shrink but never below zero, and the spend
// totals stay monotonic.
func (s *LedgerService) RefundCredits(ctx context.Context, userID uuid.UUID, amount int, apiEndpoint, reason string) (*models.CreditTransaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("refund amount must be non-negative, got %d", amount)
	}
	if apiEndpoint == "" {
		apiEndpoint = models.SystemEndpoint
	}

	if _, err := s.GetUserCredits(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := s.newTransaction(userID, apiEndpoint, amount, models.OpRefund, reason, now)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		uc, err := s.credits.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		uc.RemainingCredits += amount
		uc.UsedCredits -= amount
		if uc.UsedCredits < 0 {
			uc.UsedCredits = 0
		}
		uc.UpdatedAt = now

		if err := s.credits.UpdateBalance(ctx, tx, uc); err != nil {
			return err
		}
		return s.credits.InsertTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credits refunded", "user_id", userID, "amount", amount, "endpoint", apiEndpoint)
	return entry, nil
}

// GetCreditHistory returns the user's ledger entries newest-first.
func (s *LedgerService) GetCreditHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = s.historyDefaultLimit
	}
	if limit > s.historyMaxLimit {
		limit = s.historyMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.credits.History(ctx, userID, limit, offset)
}

// GetAPICostConfig returns the enabled cost rule for an (endpoint, method)
// pair, or storage.ErrCostConfigNotFound.
func (s *LedgerService) GetAPICostConfig(ctx context.Context, endpoint, method string) (*models.APICostConfig, error) {
	return s.configs.Get(ctx, endpoint, method)
}

// UpsertAPICostConfig creates or updates the cost rule for its
// (endpoint, method) key.
func (s *LedgerService) UpsertAPICostConfig(ctx context.Context, cfg models.APICostConfig) (*models.APICostConfig, error) {
	if cfg.Endpoint == "" || cfg.Method == "" {
		return nil, fmt.Errorf("endpoint and method are required")
	}
	if cfg.CreditCost < 0 {
		return nil, fmt.Errorf("credit cost must be non-negative, got %d", cfg.CreditCost)
	}
	return s.configs.Upsert(ctx, cfg)
}

// ListAPICostConfigs returns the whole catalog, disabled rules included.
func (s *LedgerService) ListAPICostConfigs(ctx context.Context) ([]models.APICostConfig, error) {
	return s.configs.List(ctx)
}

// RequiredCost resolves the credit cost of an (endpoint, method) pair.
// Unconfigured endpoints are free: absence of a rule means cost 0, not an
// error.
func (s *LedgerService) RequiredCost(ctx context.Context, endpoint, method string) (int, error) {
	cfg, err := s.configs.Get(ctx, endpoint, method)
	if errors.Is(err, storage.ErrCostConfigNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cfg.CreditCost, nil
}

// newTransaction builds a completed ledger entry. Every operation settles
// synchronously inside its transaction, so entries are never left pending.
func (s *LedgerService) newTransaction(userID uuid.UUID, endpoint string, creditCost int, op models.OperationType, description string, now time.Time) *models.CreditTransaction {
	completedAt := now
	return &models.CreditTransaction{
		ID:            uuid.New(),
		UserID:        userID,
		APIEndpoint:   endpoint,
		CreditCost:    creditCost,
		OperationType: op,
		Description:   description,
		Status:        models.TxStatusCompleted,
		CreatedAt:     now,
		CompletedAt:   &completedAt,
	}
}
