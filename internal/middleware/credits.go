package middleware

import (
	"errors"
	"net/http"

	"charstudio/internal/credits"
	"charstudio/internal/metrics"
	"charstudio/internal/ratelimit"
	"charstudio/internal/utils"
)

// CreditGate wraps billable handlers in the credit protocol: resolve the
// endpoint's cost, check the balance, run the handler, then commit the spend.
// The pre-check is advisory; the consume re-validates atomically, so a
// concurrent spend between check and consume cannot overdraw the balance.
type CreditGate struct {
	service credits.Service
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *utils.Logger
}

// NewCreditGate creates the gate middleware factory.
func NewCreditGate(service credits.Service, limiter ratelimit.Limiter, m *metrics.Metrics, logger *utils.Logger) *CreditGate {
	if limiter == nil {
		limiter = ratelimit.NewNoopLimiter()
	}
	if logger == nil {
		logger = utils.NewLogger("creditgate")
	}
	return &CreditGate{service: service, limiter: limiter, metrics: m, logger: logger}
}

// Billable gates a handler registered under the given endpoint identifier.
// Endpoints without a configured cost pass through free.
func (g *CreditGate) Billable(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID, ok := GetUserID(ctx)
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing user identity")
				return
			}

			allowed, err := g.limiter.Allow(ctx, userID.String())
			if err != nil {
				// Rate limiting is best effort; a Redis outage must not
				// take billable routes down.
				g.logger.Warn("rate limiter unavailable", "error", err)
			} else if !allowed {
				if g.metrics != nil {
					g.metrics.RateLimited.Inc()
				}
				utils.RespondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			cost, err := g.service.RequiredCost(ctx, endpoint, r.Method)
			if err != nil {
				utils.RespondWithError(w, http.StatusInternalServerError, "Failed to resolve operation cost")
				return
			}

			if cost > 0 {
				check, err := g.service.CheckCredits(ctx, userID, cost)
				if err != nil {
					g.countCheck("error")
					utils.RespondWithError(w, http.StatusInternalServerError, "Failed to check credits")
					return
				}
				if !check.CanProceed {
					g.countCheck("insufficient")
					utils.RespondWithJSON(w, http.StatusPaymentRequired, check)
					return
				}
				g.countCheck("sufficient")
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if cost == 0 || rec.status >= 400 {
				return
			}

			if _, err := g.service.ConsumeCredits(ctx, userID, endpoint, cost); err != nil {
				var insufficient *credits.InsufficientCreditsError
				if errors.As(err, &insufficient) {
					// The advisory check passed but a concurrent spend won;
					// the operation already ran, so only record the miss.
					g.countConsume("insufficient")
					g.logger.Warn("spend lost race after operation",
						"user_id", userID, "endpoint", endpoint, "cost", cost)
					return
				}
				g.countConsume("error")
				g.logger.Error("failed to consume credits",
					"user_id", userID, "endpoint", endpoint, "cost", cost, "error", err)
				return
			}

			g.countConsume("ok")
			if g.metrics != nil {
				g.metrics.CreditsConsumed.Add(float64(cost))
			}
		})
	}
}

func (g *CreditGate) countCheck(result string) {
	if g.metrics != nil {
		g.metrics.CreditChecks.WithLabelValues(result).Inc()
	}
}

func (g *CreditGate) countConsume(result string) {
	if g.metrics != nil {
		g.metrics.CreditConsumptions.WithLabelValues(result).Inc()
	}
}

// statusRecorder captures the status written by the wrapped handler so the
// gate only bills successful operations.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
