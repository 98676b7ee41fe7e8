package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxTimestampSkew bounds how stale (or future-dated) a signed
// authentication message may be.
const MaxTimestampSkew = 5 * time.Minute

var (
	ErrInvalidPlayerID = errors.New("player id must be a 0x-prefixed 40-hex address")
	ErrStaleTimestamp  = errors.New("authentication timestamp outside the allowed window")
	ErrBadSignature    = errors.New("signature does not recover to the player address")
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidPlayerID reports whether id is a well-formed wallet address.
func ValidPlayerID(id string) bool {
	return addressRe.MatchString(id)
}

// Normalize lowercases a wallet address for storage and lookups.
func Normalize(id string) string {
	return strings.ToLower(id)
}

// AuthMessage builds the exact string clients sign. The playerId is
// embedded as the client supplied it, so verification happens before
// any normalization.
func AuthMessage(playerID string, timestamp int64) string {
	return fmt.Sprintf("dork.fun authentication for %s at %d", playerID, timestamp)
}

// VerifySignature checks an EIP-191 personal_sign signature over
// AuthMessage(playerID, timestamp). The recovered address must equal
// playerID and the timestamp must be within MaxTimestampSkew of now.
func VerifySignature(playerID, signature string, timestamp int64) error {
	if !ValidPlayerID(playerID) {
		return ErrInvalidPlayerID
	}
	skew := time.Since(time.Unix(timestamp, 0))
	if skew > MaxTimestampSkew || skew < -MaxTimestampSkew {
		return ErrStaleTimestamp
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	// Wallets emit V as 27/28, geth recovery wants 0/1.
	sigCopy := make([]byte, len(sig))
	copy(sigCopy, sig)
	if sigCopy[crypto.RecoveryIDOffset] >= 27 {
		sigCopy[crypto.RecoveryIDOffset] -= 27
	}

	msg := AuthMessage(playerID, timestamp)
	hash := personalHash(msg)
	pub, err := crypto.SigToPub(hash, sigCopy)
	if err != nil {
		return ErrBadSignature
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(playerID) {
		return ErrBadSignature
	}
	return nil
}

// personalHash applies the EIP-191 personal message prefix.
func personalHash(msg string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return crypto.Keccak256([]byte(prefixed))
}
