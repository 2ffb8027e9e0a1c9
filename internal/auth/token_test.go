package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/fastingvibe/api/internal/clock"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"

	"github.com/bwmarrin/snowflake"
)

func newTestVerifier(t *testing.T) (*Verifier, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC))
	v, err := NewVerifier("test-secret", clk)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v, clk
}

func TestIssueAndVerify(t *testing.T) {
	v, _ := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	userID := node.Generate()

	token, err := v.IssueFor(entitlementdomain.OwnerRef{UserID: &userID}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID == nil || *claims.UserID != userID {
		t.Fatalf("expected user id %s, got %v", userID, claims.UserID)
	}

	deviceToken, err := v.IssueFor(entitlementdomain.OwnerRef{DeviceID: "device-42"}, time.Hour)
	if err != nil {
		t.Fatalf("issue device token: %v", err)
	}
	claims, err = v.Verify(deviceToken)
	if err != nil {
		t.Fatalf("verify device token: %v", err)
	}
	if claims.DeviceID != "device-42" {
		t.Fatalf("expected device id, got %q", claims.DeviceID)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	v, _ := newTestVerifier(t)
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	token, err := v.IssueFor(entitlementdomain.OwnerRef{UserID: &userID}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"flipped signature byte", token[:len(token)-1] + "A"},
		{"missing signature", token[:len(token)-45]},
		{"empty", ""},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		if _, err := v.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}

	other, err := NewVerifier("different-secret", clock.NewFakeClock(time.Now()))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected cross-secret rejection, got %v", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	v, clk := newTestVerifier(t)
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	token, err := v.IssueFor(entitlementdomain.OwnerRef{UserID: &userID}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clk.Advance(30 * time.Minute)
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("expected token still valid, got %v", err)
	}

	clk.Advance(time.Hour)
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsEmptyOwner(t *testing.T) {
	v, _ := newTestVerifier(t)

	token, err := v.Issue(Claims{ExpiresAt: v.clock.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for ownerless claims, got %v", err)
	}
}
