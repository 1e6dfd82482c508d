package server

import (
	"context"
	"log/slog"
	"net/http"
)

// RiskScore is the computed risk for an authentication attempt, supplied by
// an external risk engine.
type RiskScore struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// HighRisk reports whether the score meets or exceeds the threshold.
func (s RiskScore) HighRisk() bool {
	return s.Score >= s.Threshold
}

// ContingencyResponse is the uniform envelope every contingency plan
// produces, regardless of which plan ran.
type ContingencyResponse struct {
	Result     string         `json:"result"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ContingencyPlan reacts to a risky authentication attempt. A nil response
// with a nil error means the plan chose not to act.
type ContingencyPlan interface {
	React(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error)
}

// RiskContingencyDispatcher invokes exactly one configured plan through a
// fixed entry point, so every plan observes identical pre/post conditions.
// Plan selection happens upstream; the dispatcher never chooses.
type RiskContingencyDispatcher struct {
	plan   ContingencyPlan
	logger *slog.Logger
}

// NewRiskContingencyDispatcher binds the dispatcher to its plan.
func NewRiskContingencyDispatcher(plan ContingencyPlan, logger *slog.Logger) *RiskContingencyDispatcher {
	if plan == nil {
		plan = NoOpContingencyPlan{}
	}
	return &RiskContingencyDispatcher{plan: plan, logger: logger}
}

// Execute forwards unconditionally to the configured plan.
func (d *RiskContingencyDispatcher) Execute(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error) {
	d.logger.Debug("executing risk contingency plan",
		"principal", auth.Principal.ID, "score", score.Score, "threshold", score.Threshold)
	return d.plan.React(ctx, auth, svc, score, r)
}

// NoOpContingencyPlan takes no action.
type NoOpContingencyPlan struct{}

// React implements ContingencyPlan.
func (NoOpContingencyPlan) React(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error) {
	return nil, nil
}

// BlockAuthenticationContingencyPlan denies risky attempts outright.
type BlockAuthenticationContingencyPlan struct{}

// React implements ContingencyPlan.
func (BlockAuthenticationContingencyPlan) React(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error) {
	if !score.HighRisk() {
		return nil, nil
	}
	return &ContingencyResponse{
		Result: "blocked",
		Attributes: map[string]any{
			"principal": auth.Principal.ID,
			"score":     score.Score,
		},
	}, nil
}

// MultifactorAuthenticationContingencyPlan routes risky attempts to an
// additional verification step.
type MultifactorAuthenticationContingencyPlan struct {
	ProviderID string
}

// React implements ContingencyPlan.
func (p MultifactorAuthenticationContingencyPlan) React(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error) {
	if !score.HighRisk() {
		return nil, nil
	}
	return &ContingencyResponse{
		Result: "mfa_required",
		Attributes: map[string]any{
			"provider":  p.ProviderID,
			"principal": auth.Principal.ID,
		},
	}, nil
}

// ContingencyPlanFromConfig resolves the configured plan name.
func ContingencyPlanFromConfig(cfg RiskConfig) ContingencyPlan {
	switch cfg.Plan {
	case "block":
		return BlockAuthenticationContingencyPlan{}
	case "mfa":
		return MultifactorAuthenticationContingencyPlan{ProviderID: cfg.MFAProvider}
	default:
		return NoOpContingencyPlan{}
	}
}
