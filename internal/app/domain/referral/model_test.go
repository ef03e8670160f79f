package referral

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusSignedUp}: true,
		{StatusSignedUp, StatusHired}:   true,
		{StatusHired, StatusRewarded}:   true,
	}

	statuses := []Status{StatusPending, StatusSignedUp, StatusHired, StatusRewarded}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %t, want %t", from, to, got, want)
			}
		}
	}
}

func TestParseChannel(t *testing.T) {
	for _, raw := range []string{"link", "email", "sms", "facebook", "twitter"} {
		if _, err := ParseChannel(raw); err != nil {
			t.Errorf("parse channel %s: %v", raw, err)
		}
	}
	if _, err := ParseChannel("carrier-pigeon"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
