package qr_test

import (
	"testing"

	"ms-tokenomy/internal/perks/qr"
)

func TestClaimCodeRoundTrip(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")

	payload := qr.ClaimPayload{
		ClaimID: "claim-123",
		PerkID:  "perk-456",
		UserID:  "user-789",
	}

	code, png, err := gen.GenerateClaimCode(payload)
	if err != nil {
		t.Fatalf("Failed to generate claim code: %v", err)
	}
	if code == "" {
		t.Error("Generated claim code is empty")
	}
	if len(png) == 0 {
		t.Error("Generated QR PNG is empty")
	}

	decoded, err := gen.DecodeClaimCode(code)
	if err != nil {
		t.Fatalf("Failed to decode claim code: %v", err)
	}
	if decoded != payload {
		t.Errorf("Decoded payload %+v does not match original %+v", decoded, payload)
	}
}

func TestDecodeWithWrongSecret(t *testing.T) {
	gen := qr.NewQRGenerator("right-secret")
	other := qr.NewQRGenerator("wrong-secret")

	code, _, err := gen.GenerateClaimCode(qr.ClaimPayload{ClaimID: "c1", PerkID: "p1", UserID: "u1"})
	if err != nil {
		t.Fatalf("Failed to generate claim code: %v", err)
	}

	if _, err := other.DecodeClaimCode(code); err == nil {
		t.Error("Expected decode with wrong secret to fail")
	}
}

func TestCodesAreUniquePerClaim(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")
	payload := qr.ClaimPayload{ClaimID: "c1", PerkID: "p1", UserID: "u1"}

	// Same payload twice still yields distinct codes thanks to the random IV.
	first, _, err := gen.GenerateClaimCode(payload)
	if err != nil {
		t.Fatalf("Failed to generate first code: %v", err)
	}
	second, _, err := gen.GenerateClaimCode(payload)
	if err != nil {
		t.Fatalf("Failed to generate second code: %v", err)
	}
	if first == second {
		t.Error("Expected distinct codes for repeated generation")
	}
}

func TestDecodeGarbage(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")

	if _, err := gen.DecodeClaimCode("not-base64!!!"); err == nil {
		t.Error("Expected decode of invalid base64 to fail")
	}
	if _, err := gen.DecodeClaimCode("aGVsbG8="); err == nil {
		t.Error("Expected decode of short ciphertext to fail")
	}
}
