package credits

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charstudio/internal/models"
	"charstudio/internal/storage"
	"charstudio/internal/utils"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

var userCreditsCols = []string{
	"user_id", "daily_credits", "used_credits", "remaining_credits", "last_reset_date",
	"total_credits_earned", "total_credits_spent", "created_at", "updated_at",
}

func newTestService(t *testing.T) (*LedgerService, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := storage.NewDBWithConn(sqlx.NewDb(mockDB, "sqlmock"), storage.DBConfig{})
	svc := NewLedgerService(db, LedgerOptions{DailyAllowance: 100}, utils.NewLogger("test"))
	svc.now = func() time.Time { return fixedNow }
	return svc, mock
}

func balanceRows(userID uuid.UUID, daily, used, remaining int, lastReset time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userCreditsCols).
		AddRow(userID.String(), daily, used, remaining, lastReset, daily, used, lastReset, lastReset)
}

func TestGetUserCredits_Existing(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WithArgs(userID).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow.Add(-2*time.Hour)))

	uc, err := svc.GetUserCredits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 100, uc.DailyCredits)
	assert.Equal(t, 20, uc.UsedCredits)
	assert.Equal(t, 80, uc.RemainingCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserCredits_LazyCreate(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	// Balance row and initial grant land in one transaction.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_credits`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), userID, models.SystemEndpoint, 100,
			models.OpDailyReset, "Initial daily credit grant",
			sqlmock.AnyArg(), models.TxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WithArgs(userID).
		WillReturnRows(balanceRows(userID, 100, 0, 100, fixedNow))

	uc, err := svc.GetUserCredits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 100, uc.RemainingCredits)
	assert.Equal(t, 0, uc.UsedCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserCredits_LazyCreateLosesRace(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnError(sql.ErrNoRows)

	// A concurrent creator won; the insert is a no-op and no initial grant
	// is logged by the loser.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_credits`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 5, 95, fixedNow))

	uc, err := svc.GetUserCredits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 95, uc.RemainingCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserCredits_DailyReset(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()
	yesterday := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 60, 40, yesterday))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, yesterday, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), userID, models.SystemEndpoint, 100,
			models.OpDailyReset, "Daily credit reset",
			sqlmock.AnyArg(), models.TxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 0, 100, fixedNow))

	uc, err := svc.GetUserCredits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, uc.UsedCredits)
	assert.Equal(t, 100, uc.RemainingCredits)
	assert.Equal(t, fixedNow, uc.LastResetDate.UTC())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserCredits_ResetRaceLoser(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()
	yesterday := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 60, 40, yesterday))

	// The conditional update misses because another caller already advanced
	// last_reset_date: no reset entry is logged, nothing double-credited.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, yesterday, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 0, 100, fixedNow))

	uc, err := svc.GetUserCredits(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 100, uc.RemainingCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredits_Success(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, 70, 30, 100, 70, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), userID, "/api/test", -50,
			models.OpAPICall, "API call to /api/test",
			sqlmock.AnyArg(), models.TxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := svc.ConsumeCredits(context.Background(), userID, "/api/test", 50)
	require.NoError(t, err)
	assert.Equal(t, -50, entry.CreditCost)
	assert.Equal(t, models.OpAPICall, entry.OperationType)
	assert.Equal(t, models.TxStatusCompleted, entry.Status)
	require.NotNil(t, entry.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredits_Insufficient(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 70, 30, fixedNow))

	// The atomic re-check fails and the transaction rolls back with no
	// balance update and no ledger entry.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WillReturnRows(balanceRows(userID, 100, 70, 30, fixedNow))
	mock.ExpectRollback()

	_, err := svc.ConsumeCredits(context.Background(), userID, "/api/test", 1000)
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1000, insufficient.Required)
	assert.Equal(t, 30, insufficient.Available)
	assert.Equal(t, "Insufficient credits. Required: 1000, Available: 30", err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredits_NegativeCost(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ConsumeCredits(context.Background(), uuid.New(), "/api/test", -1)
	require.Error(t, err)
}

func TestConsumeCredits_ZeroCostStillLogged(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 0, 100, fixedNow))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WillReturnRows(balanceRows(userID, 100, 0, 100, fixedNow))
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, 0, 100, 100, 0, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := svc.ConsumeCredits(context.Background(), userID, "/api/free", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.CreditCost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantCredits(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))
	// Remaining and lifetime earnings grow; used credits and the daily
	// allowance are untouched.
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, 20, 130, 150, 20, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), userID, models.SystemEndpoint, 50,
			models.OpAdminGrant, "promo bonus",
			sqlmock.AnyArg(), models.TxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := svc.GrantCredits(context.Background(), userID, 50, "promo bonus")
	require.NoError(t, err)
	assert.Equal(t, 50, entry.CreditCost)
	assert.Equal(t, models.OpAdminGrant, entry.OperationType)
	assert.Equal(t, "promo bonus", entry.Description)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundCredits_ClampsUsedAtZero(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 10, 90, fixedNow))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WillReturnRows(balanceRows(userID, 100, 10, 90, fixedNow))
	mock.ExpectExec(`UPDATE user_credits`).
		WithArgs(userID, 0, 120, 100, 10, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), userID, "/api/characters/generate", 30,
			models.OpRefund, "generation failed",
			sqlmock.AnyArg(), models.TxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := svc.RefundCredits(context.Background(), userID, 30, "/api/characters/generate", "generation failed")
	require.NoError(t, err)
	assert.Equal(t, 30, entry.CreditCost)
	assert.Equal(t, models.OpRefund, entry.OperationType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckCredits_Sufficient(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))

	result, err := svc.CheckCredits(context.Background(), userID, 50)
	require.NoError(t, err)
	assert.Equal(t, CheckSufficient, result.Status)
	assert.True(t, result.CanProceed)
	assert.Equal(t, 80, result.CurrentCredits)
	assert.Equal(t, 50, result.RequiredCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckCredits_Insufficient(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 70, 30, fixedNow))

	result, err := svc.CheckCredits(context.Background(), userID, 1000)
	require.NoError(t, err)
	assert.Equal(t, CheckInsufficient, result.Status)
	assert.False(t, result.CanProceed)
	assert.Equal(t, "Insufficient credits. Required: 1000, Available: 30", result.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCreditHistory_Pagination(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	txCols := []string{
		"id", "user_id", "api_endpoint", "credit_cost", "operation_type", "description",
		"request_data", "status", "created_at", "completed_at",
	}

	// Zero limit falls back to the default page size.
	mock.ExpectQuery(`SELECT (.+) FROM credit_transactions`).
		WithArgs(userID, 50, 0).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(uuid.NewString(), userID.String(), "/api/test", -50, string(models.OpAPICall), "API call to /api/test",
				nil, string(models.TxStatusCompleted), fixedNow, fixedNow).
			AddRow(uuid.NewString(), userID.String(), models.SystemEndpoint, 100, string(models.OpDailyReset), "Daily credit reset",
				nil, string(models.TxStatusCompleted), fixedNow.Add(-time.Hour), fixedNow.Add(-time.Hour)))

	history, err := svc.GetCreditHistory(context.Background(), userID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, -50, history[0].CreditCost)
	assert.Equal(t, models.OpDailyReset, history[1].OperationType)

	// Oversized limits clamp to the configured maximum.
	mock.ExpectQuery(`SELECT (.+) FROM credit_transactions`).
		WithArgs(userID, 200, 10).
		WillReturnRows(sqlmock.NewRows(txCols))

	_, err = svc.GetCreditHistory(context.Background(), userID, 5000, 10)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequiredCost_UnconfiguredEndpointIsFree(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`SELECT (.+) FROM api_credit_configs`).
		WithArgs("/api/unpriced", "GET").
		WillReturnError(sql.ErrNoRows)

	cost, err := svc.RequiredCost(context.Background(), "/api/unpriced", "GET")
	require.NoError(t, err)
	assert.Equal(t, 0, cost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequiredCost_ConfiguredEndpoint(t *testing.T) {
	svc, mock := newTestService(t)

	cfgCols := []string{"id", "endpoint", "method", "credit_cost", "description", "is_enabled", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT (.+) FROM api_credit_configs`).
		WithArgs("/api/characters/generate", "POST").
		WillReturnRows(sqlmock.NewRows(cfgCols).
			AddRow(uuid.NewString(), "/api/characters/generate", "POST", 10, "character generation", true, fixedNow, fixedNow))

	cost, err := svc.RequiredCost(context.Background(), "/api/characters/generate", "POST")
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredits_StorageErrorRollsBack(t *testing.T) {
	svc, mock := newTestService(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM user_credits WHERE user_id = (.+) FOR UPDATE`).
		WillReturnRows(balanceRows(userID, 100, 20, 80, fixedNow))
	mock.ExpectExec(`UPDATE user_credits`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.ConsumeCredits(context.Background(), userID, "/api/test", 50)
	require.Error(t, err)
	var insufficient *InsufficientCreditsError
	assert.False(t, errors.As(err, &insufficient))
	require.NoError(t, mock.ExpectationsWereMet())
}
