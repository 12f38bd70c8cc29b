package usagegate

import (
	"testing"
	"time"
)

func TestLimitsAllowed(t *testing.T) {
	override := 200
	cases := []struct {
		name   string
		limits Limits
		want   int
	}{
		{"plan only", Limits{PlanRequestsPerDay: 100, RequestBuffer: 10}, 90},
		{"override wins", Limits{PlanRequestsPerDay: 100, OverrideRequestsPerDay: &override, RequestBuffer: 20}, 180},
		{"buffer exceeds plan clamps to zero", Limits{PlanRequestsPerDay: 5, RequestBuffer: 10}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.limits.allowed(); got != tc.want {
				t.Errorf("allowed() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSecondsUntilUTCMidnight(t *testing.T) {
	now := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	d := secondsUntilUTCMidnight(now)
	if d != time.Hour {
		t.Errorf("expected 1h until midnight, got %v", d)
	}

	now2 := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	d2 := secondsUntilUTCMidnight(now2)
	if d2 != 24*time.Hour {
		t.Errorf("expected 24h at exact midnight, got %v", d2)
	}
}
