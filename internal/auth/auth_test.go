package auth

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func signFor(t *testing.T, playerID string, timestamp int64, keyHex string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	sig, err := crypto.Sign(personalHash(AuthMessage(playerID, timestamp)), key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return hexutil.Encode(sig)
}

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestVerifySignatureAcceptsValid(t *testing.T) {
	addr := testAddress(t)
	ts := time.Now().Unix()
	sig := signFor(t, addr, ts, testKeyHex)

	if err := VerifySignature(addr, sig, ts); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureAcceptsLegacyV(t *testing.T) {
	addr := testAddress(t)
	ts := time.Now().Unix()
	sig := signFor(t, addr, ts, testKeyHex)

	// Wallets commonly report V as 27/28 rather than 0/1.
	raw, err := hexutil.Decode(sig)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[64] += 27
	if err := VerifySignature(addr, hexutil.Encode(raw), ts); err != nil {
		t.Errorf("legacy-V signature rejected: %v", err)
	}
}

func TestVerifySignatureRejectsWrongSigner(t *testing.T) {
	addr := testAddress(t)
	other := "0x0000000000000000000000000000000000000001"
	ts := time.Now().Unix()
	sig := signFor(t, other, ts, testKeyHex)

	if err := VerifySignature(other, sig, ts); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature for mismatched signer, got %v", err)
	}
	// A signature over a different player's message must not verify either.
	if err := VerifySignature(addr, sig, ts); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature for reused signature, got %v", err)
	}
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	addr := testAddress(t)
	ts := time.Now().Add(-10 * time.Minute).Unix()
	sig := signFor(t, addr, ts, testKeyHex)

	if err := VerifySignature(addr, sig, ts); err != ErrStaleTimestamp {
		t.Errorf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifySignatureRejectsFutureTimestamp(t *testing.T) {
	addr := testAddress(t)
	ts := time.Now().Add(10 * time.Minute).Unix()
	sig := signFor(t, addr, ts, testKeyHex)

	if err := VerifySignature(addr, sig, ts); err != ErrStaleTimestamp {
		t.Errorf("expected ErrStaleTimestamp for future timestamp, got %v", err)
	}
}

func TestVerifySignatureRejectsMalformedInput(t *testing.T) {
	addr := testAddress(t)
	ts := time.Now().Unix()

	if err := VerifySignature("not-an-address", "0x00", ts); err != ErrInvalidPlayerID {
		t.Errorf("expected ErrInvalidPlayerID, got %v", err)
	}
	if err := VerifySignature(addr, "0xdeadbeef", ts); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature for short signature, got %v", err)
	}
	if err := VerifySignature(addr, "no-hex-prefix", ts); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature for non-hex signature, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("0xABCDEF0123456789abcdef0123456789ABCDEF01"); got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Errorf("Normalize returned %s", got)
	}
}
