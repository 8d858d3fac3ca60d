package security

import (
	"testing"

	"github.com/google/uuid"
)

func TestFingerprint_Consistent(t *testing.T) {
	jti := "5f0c6c2e-0d6b-4c8e-9a53-3c2b4d8f9e10"
	fp1 := Fingerprint(jti)
	fp2 := Fingerprint(jti)

	if fp1 != fp2 {
		t.Errorf("Fingerprint not deterministic: %q vs %q", fp1, fp2)
	}
	if len(fp1) != 64 {
		t.Errorf("fingerprint length = %d, want 64 (SHA-256 hex)", len(fp1))
	}
}

func TestFingerprint_KnownVector(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Fingerprint("abc"); got != want {
		t.Errorf("Fingerprint(abc) = %q, want %q", got, want)
	}
}

func TestFingerprint_DoesNotContainInput(t *testing.T) {
	jti := "deadbeefdeadbeef"
	if fp := Fingerprint(jti); fp == jti {
		t.Error("fingerprint must not equal the raw id")
	}
}

func TestFingerprint_PairwiseDistinct(t *testing.T) {
	const n = 2000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		fp := Fingerprint(uuid.NewString())
		if _, dup := seen[fp]; dup {
			t.Fatalf("duplicate fingerprint after %d ids", i)
		}
		seen[fp] = struct{}{}
	}
}

func TestShortFingerprint(t *testing.T) {
	fp := Fingerprint("x")
	if got := ShortFingerprint(fp); len(got) != 12 || got != fp[:12] {
		t.Errorf("ShortFingerprint = %q", got)
	}
	if got := ShortFingerprint("abc"); got != "abc" {
		t.Errorf("ShortFingerprint(short) = %q, want abc", got)
	}
}
