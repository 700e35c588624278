package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const nonceMessageFormat = "This is a message for creating a deterministic nonce for event with ID %s and index %d"

// DeterministicNonce derives the per-digit nonce pair for an event. The
// secret is the SHA-256 of a fixed message over (eventID, index); the
// public part is the corresponding compressed public key. Both are hex.
func DeterministicNonce(eventID string, index int) (sec string, pub string, err error) {
	msg := fmt.Sprintf(nonceMessageFormat, eventID, index)
	hash := sha256.Sum256([]byte(msg))

	priv := secp256k1.PrivKeyFromBytes(hash[:])
	if priv.Key.IsZero() {
		return "", "", fmt.Errorf("degenerate nonce for event %s index %d", eventID, index)
	}

	sec = hex.EncodeToString(hash[:])
	pub = hex.EncodeToString(priv.PubKey().SerializeCompressed())
	return sec, pub, nil
}
