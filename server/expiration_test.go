package server

import (
	"testing"
	"time"
)

func defaultTestPolicy() ExpirationPolicy {
	return ExpirationPolicy{MaxTimeToLive: 8 * time.Hour, TimeToKill: 2 * time.Hour}
}

func TestResolveExpirationPolicyUsesFullOverride(t *testing.T) {
	svc := &RegisteredService{
		ClientID: "svc1",
		AccessTokenPolicy: &AccessTokenPolicyOverride{
			MaxTimeToLive: "PT2H",
			TimeToKill:    "PT30M",
		},
	}

	policy := ResolveExpirationPolicy(svc, defaultTestPolicy)
	if got := policy.MaxTimeToLive; got != 2*time.Hour {
		t.Fatalf("max time to live = %v, want 2h", got)
	}
	if got := policy.TimeToKill; got != 30*time.Minute {
		t.Fatalf("time to kill = %v, want 30m", got)
	}
}

func TestResolveExpirationPolicyIgnoresPartialOverride(t *testing.T) {
	cases := []*AccessTokenPolicyOverride{
		{MaxTimeToLive: "PT2H"},
		{TimeToKill: "PT30M"},
		{MaxTimeToLive: "  ", TimeToKill: "PT30M"},
		{},
		nil,
	}
	for _, override := range cases {
		svc := &RegisteredService{ClientID: "svc", AccessTokenPolicy: override}
		policy := ResolveExpirationPolicy(svc, defaultTestPolicy)
		if policy != defaultTestPolicy() {
			t.Fatalf("override %+v: got %+v, want default", override, policy)
		}
	}
}

func TestResolveExpirationPolicyNilService(t *testing.T) {
	policy := ResolveExpirationPolicy(nil, defaultTestPolicy)
	if policy != defaultTestPolicy() {
		t.Fatalf("got %+v, want default", policy)
	}
}

func TestResolveExpirationPolicyGoDurations(t *testing.T) {
	svc := &RegisteredService{
		ClientID: "svc",
		AccessTokenPolicy: &AccessTokenPolicyOverride{
			MaxTimeToLive: "90m",
			TimeToKill:    "10m",
		},
	}
	policy := ResolveExpirationPolicy(svc, defaultTestPolicy)
	if policy.MaxTimeToLive != 90*time.Minute || policy.TimeToKill != 10*time.Minute {
		t.Fatalf("got %+v", policy)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT2H", 2 * time.Hour},
		{"PT30M", 30 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"PT45S", 45 * time.Second},
		{"P1D", 24 * time.Hour},
		{"P1DT12H", 36 * time.Hour},
		{"2h", 2 * time.Hour},
		{"15m", 15 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "PT", "P2X", "PT5", "bogus"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("ParseDuration(%q): expected error", bad)
		}
	}
}

func TestExpirationPolicyExpiredAt(t *testing.T) {
	policy := ExpirationPolicy{MaxTimeToLive: time.Hour, TimeToKill: 10 * time.Minute}
	created := time.Now()

	if policy.ExpiredAt(created, created, created.Add(5*time.Minute)) {
		t.Fatalf("fresh ticket reported expired")
	}
	if !policy.ExpiredAt(created, created.Add(55*time.Minute), created.Add(61*time.Minute)) {
		t.Fatalf("ticket past max ttl reported live")
	}
	if !policy.ExpiredAt(created, created, created.Add(11*time.Minute)) {
		t.Fatalf("idle ticket reported live")
	}
}
