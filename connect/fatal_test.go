package connect

import "testing"

func TestIsDynamicChallenge(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{"CRV1:R,E:abc123:dXNlcg==:Enter OTP", true},
		{"CRV1:", true},
		{"crv1:R,E:abc", false},
		{"AUTH_FAILED", false},
		{"bad password CRV1:", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsDynamicChallenge(tt.reason); got != tt.want {
			t.Errorf("IsDynamicChallenge(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestFatalCodeString(t *testing.T) {
	if got := FatalAuthFailed.String(); got != "AuthFailed" {
		t.Errorf("FatalAuthFailed.String() = %q", got)
	}
	if got := FatalCode(99).String(); got != "Unknown" {
		t.Errorf("FatalCode(99).String() = %q", got)
	}
}

func TestEventString(t *testing.T) {
	ev := Event{Kind: EventAuthFailed, Reason: "bad password"}
	if got := ev.String(); got != "AuthFailed: bad password" {
		t.Errorf("Event.String() = %q", got)
	}
	if got := (Event{Kind: EventPause}).String(); got != "Pause" {
		t.Errorf("Event.String() = %q", got)
	}
}
