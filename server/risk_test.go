package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingPlan struct {
	calls int
	resp  *ContingencyResponse
	err   error
}

func (p *recordingPlan) React(ctx context.Context, auth Authentication, svc *RegisteredService, score RiskScore, r *http.Request) (*ContingencyResponse, error) {
	p.calls++
	return p.resp, p.err
}

func TestDispatcherForwardsToPlan(t *testing.T) {
	plan := &recordingPlan{resp: &ContingencyResponse{Result: "custom"}}
	dispatcher := NewRiskContingencyDispatcher(plan, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/risk/assess", nil)
	resp, err := dispatcher.Execute(context.Background(), testAuthentication("casuser"), nil,
		RiskScore{Score: 0.9, Threshold: 0.7}, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if plan.calls != 1 {
		t.Fatalf("plan invoked %d times, want exactly 1", plan.calls)
	}
	if resp == nil || resp.Result != "custom" {
		t.Fatalf("response = %+v, want the plan's envelope", resp)
	}
}

func TestDispatcherPropagatesPlanError(t *testing.T) {
	plan := &recordingPlan{err: errors.New("boom")}
	dispatcher := NewRiskContingencyDispatcher(plan, testLogger())

	if _, err := dispatcher.Execute(context.Background(), testAuthentication("casuser"), nil, RiskScore{}, nil); err == nil {
		t.Fatalf("expected plan error to propagate")
	}
}

func TestNilPlanDefaultsToNoOp(t *testing.T) {
	dispatcher := NewRiskContingencyDispatcher(nil, testLogger())
	resp, err := dispatcher.Execute(context.Background(), testAuthentication("casuser"), nil,
		RiskScore{Score: 1, Threshold: 0}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp != nil {
		t.Fatalf("no-op plan must return nil response, got %+v", resp)
	}
}

func TestBlockPlanDeniesHighRisk(t *testing.T) {
	plan := BlockAuthenticationContingencyPlan{}

	resp, err := plan.React(context.Background(), testAuthentication("casuser"), nil,
		RiskScore{Score: 0.95, Threshold: 0.7}, nil)
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if resp == nil || resp.Result != "blocked" {
		t.Fatalf("response = %+v, want blocked", resp)
	}

	resp, err = plan.React(context.Background(), testAuthentication("casuser"), nil,
		RiskScore{Score: 0.1, Threshold: 0.7}, nil)
	if err != nil || resp != nil {
		t.Fatalf("low-risk attempt must pass, got %+v / %v", resp, err)
	}
}

func TestMFAPlanRequiresVerification(t *testing.T) {
	plan := MultifactorAuthenticationContingencyPlan{ProviderID: "mfa-duo"}

	resp, err := plan.React(context.Background(), testAuthentication("casuser"), nil,
		RiskScore{Score: 0.8, Threshold: 0.7}, nil)
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if resp == nil || resp.Result != "mfa_required" {
		t.Fatalf("response = %+v, want mfa_required", resp)
	}
	if resp.Attributes["provider"] != "mfa-duo" {
		t.Fatalf("provider attribute = %v", resp.Attributes["provider"])
	}
}

func TestContingencyPlanFromConfig(t *testing.T) {
	if _, ok := ContingencyPlanFromConfig(RiskConfig{Plan: "block"}).(BlockAuthenticationContingencyPlan); !ok {
		t.Fatalf("block plan not selected")
	}
	if _, ok := ContingencyPlanFromConfig(RiskConfig{Plan: "mfa"}).(MultifactorAuthenticationContingencyPlan); !ok {
		t.Fatalf("mfa plan not selected")
	}
	if _, ok := ContingencyPlanFromConfig(RiskConfig{Plan: "none"}).(NoOpContingencyPlan); !ok {
		t.Fatalf("no-op plan not selected")
	}
}
