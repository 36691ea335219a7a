package session

import (
	"bytes"
	"testing"

	"cryptdrive.io/cryptoimpl"
)

func TestDerivePasswordKeyV1IsDeterministic(t *testing.T) {
	c := cryptoimpl.New()
	pre := &PreloginResult{Version: VersionV1}
	k1, auth1, err := DerivePasswordKey(c, pre, []byte("hunter2"))
	if err != nil {
		t.Fatalf("DerivePasswordKey: %v", err)
	}
	k2, _, err := DerivePasswordKey(c, pre, []byte("hunter2"))
	if err != nil {
		t.Fatalf("DerivePasswordKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("v1 derivation is not deterministic: %x vs %x", k1, k2)
	}
	if len(k1) != 16 {
		t.Fatalf("v1 key length = %d, want 16", len(k1))
	}
	if auth1 != nil {
		t.Fatalf("v1 accounts have no separate auth hash")
	}
}

func TestDerivePasswordKeyV1DiffersByPassword(t *testing.T) {
	c := cryptoimpl.New()
	pre := &PreloginResult{Version: VersionV1}
	k1, _, _ := DerivePasswordKey(c, pre, []byte("password-a"))
	k2, _, _ := DerivePasswordKey(c, pre, []byte("password-b"))
	if bytes.Equal(k1, k2) {
		t.Fatalf("different passwords produced the same v1 key")
	}
}

func TestDerivePasswordKeyV2SplitsAesAndAuth(t *testing.T) {
	c := cryptoimpl.New()
	pre := &PreloginResult{Version: VersionV2, Salt: bytes.Repeat([]byte{0x01}, 16)}
	aesKey, authHash, err := DerivePasswordKey(c, pre, []byte("hunter2"))
	if err != nil {
		t.Fatalf("DerivePasswordKey: %v", err)
	}
	if len(aesKey) != 32 || len(authHash) != 32 {
		t.Fatalf("aesKey/authHash lengths = %d/%d, want 32/32", len(aesKey), len(authHash))
	}
	if bytes.Equal(aesKey, authHash) {
		t.Fatalf("aesKey and authHash must be distinct halves of the derived material")
	}
}

func TestDerivePasswordKeyV2RequiresSalt(t *testing.T) {
	c := cryptoimpl.New()
	pre := &PreloginResult{Version: VersionV2}
	if _, _, err := DerivePasswordKey(c, pre, []byte("hunter2")); err == nil {
		t.Fatalf("expected an error when v2 prelogin carries no salt")
	}
}

func TestReconcileKeyPairGeneratesWhenAbsent(t *testing.T) {
	c := cryptoimpl.New()
	got, err := ReconcileKeyPair(c, &KeyPair{})
	if err != nil {
		t.Fatalf("ReconcileKeyPair: %v", err)
	}
	if len(got.RSAPub) == 0 || len(got.Ed25519Pub) == 0 || len(got.X25519Pub) == 0 {
		t.Fatalf("expected a freshly generated keypair, got %+v", got)
	}
}

func TestReconcileKeyPairKeepsValidFullSet(t *testing.T) {
	c := cryptoimpl.New()
	fresh, err := ReconcileKeyPair(c, &KeyPair{})
	if err != nil {
		t.Fatalf("ReconcileKeyPair (generate): %v", err)
	}
	kept, err := ReconcileKeyPair(c, fresh)
	if err != nil {
		t.Fatalf("ReconcileKeyPair (verify): %v", err)
	}
	if !bytes.Equal(kept.RSAPriv, fresh.RSAPriv) {
		t.Fatalf("a valid full keypair should be kept as-is, not regenerated")
	}
}

func TestReconcileKeyPairClearsPartialSet(t *testing.T) {
	c := cryptoimpl.New()
	fresh, err := ReconcileKeyPair(c, &KeyPair{})
	if err != nil {
		t.Fatalf("ReconcileKeyPair (generate): %v", err)
	}
	partial := &KeyPair{RSAPub: fresh.RSAPub, RSAPriv: fresh.RSAPriv}
	if _, err := ReconcileKeyPair(c, partial); err == nil {
		t.Fatalf("expected an error for a partially present keypair")
	}
}
