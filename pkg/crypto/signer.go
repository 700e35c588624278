// Package crypto implements the oracle's signing key management: an HD
// key derived from stored seed entropy, deterministic per-digit nonces
// and BIP-340 Schnorr signatures with a caller-supplied nonce.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

// Supported network names.
const (
	NetworkMainnet = "bitcoin"
	NetworkSignet  = "signet"
)

// Signer derives child keys under a fixed account path and signs
// attestation messages. Derivation is m/84'/0'/0' on mainnet and
// m/84'/1'/0' on signet; event keys are normal children at
// account/0/index.
type Signer struct {
	network string
	account *hdkeychain.ExtendedKey
	xpub    string
}

// NewSignerFromSecretFile loads entropy from an encrypted secret file.
func NewSignerFromSecretFile(path, password string) (*Signer, error) {
	entropy, network, err := LoadSecretFile(path, password)
	if err != nil {
		return nil, err
	}
	return newSigner(entropy, network)
}

// NewSignerWithEntropy builds a signer directly from hex seed entropy,
// 16 or 32 bytes. Used by tooling and tests.
func NewSignerWithEntropy(entropyHex, network string) (*Signer, error) {
	entropy, err := hex.DecodeString(entropyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid entropy hex: %w", err)
	}
	return newSigner(entropy, network)
}

func newSigner(entropy []byte, network string) (*Signer, error) {
	netParams, coinType, err := networkParams(network)
	if err != nil {
		return nil, err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("invalid entropy: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, fmt.Errorf("master key derivation failed: %w", err)
	}
	// m/84'/coin'/0'
	account := master
	for _, idx := range []uint32{84, coinType, 0} {
		account, err = account.Derive(hdkeychain.HardenedKeyStart + idx)
		if err != nil {
			return nil, fmt.Errorf("account derivation failed: %w", err)
		}
	}

	neutered, err := account.Neuter()
	if err != nil {
		return nil, fmt.Errorf("xpub derivation failed: %w", err)
	}

	return &Signer{
		network: network,
		account: account,
		xpub:    neutered.String(),
	}, nil
}

func networkParams(network string) (*chaincfg.Params, uint32, error) {
	switch network {
	case NetworkMainnet:
		return &chaincfg.MainNetParams, 0, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, 1, nil
	default:
		return nil, 0, fmt.Errorf("unsupported network %q", network)
	}
}

// Network returns the configured network name.
func (s *Signer) Network() string { return s.network }

// Xpub returns the neutered account extended public key.
func (s *Signer) Xpub() string { return s.xpub }

func (s *Signer) childKey(index uint32) (*hdkeychain.ExtendedKey, error) {
	child, err := s.account.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("child derivation failed: %w", err)
	}
	child, err = child.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("child derivation failed: %w", err)
	}
	return child, nil
}

// PublicKey returns the compressed hex public key of the child at index.
func (s *Signer) PublicKey(index uint32) (string, error) {
	child, err := s.childKey(index)
	if err != nil {
		return "", err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("child pubkey failed: %w", err)
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// SignSchnorrWithNonce signs SHA-256(msg) with the child key at index,
// forcing the given 32-byte nonce scalar as k. The returned signature is
// 64 bytes hex encoded.
func (s *Signer) SignSchnorrWithNonce(msg, nonceSecHex string, index uint32) (string, error) {
	nonceSec, err := hex.DecodeString(nonceSecHex)
	if err != nil {
		return "", fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(nonceSec) != 32 {
		return "", fmt.Errorf("invalid nonce length %d", len(nonceSec))
	}

	child, err := s.childKey(index)
	if err != nil {
		return "", err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return "", fmt.Errorf("child privkey failed: %w", err)
	}

	msgHash := sha256.Sum256([]byte(msg))
	sig, err := schnorrSignWithNonce(priv, msgHash[:], nonceSec)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// schnorrSignWithNonce produces a BIP-340 signature with a fixed nonce:
// s = k + e*d where e is the tagged challenge hash. Both d and k are
// conditionally negated so P and R have even Y.
func schnorrSignWithNonce(privKey *btcec.PrivateKey, msgHash, nonceSec []byte) ([]byte, error) {
	d := privKey.Key
	pub := privKey.PubKey()
	if pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}

	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(nonceSec); overflow {
		return nil, errors.New("nonce scalar overflows curve order")
	}
	if k.IsZero() {
		return nil, errors.New("nonce scalar is zero")
	}

	var rPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &rPoint)
	rPoint.ToAffine()
	if rPoint.Y.IsOdd() {
		k.Negate()
	}

	var rBytes [32]byte
	rPoint.X.PutBytesUnchecked(rBytes[:])

	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, rBytes[:], schnorr.SerializePubKey(pub), msgHash,
	)
	var e secp256k1.ModNScalar
	e.SetBytes((*[32]byte)(commitment))

	sScalar := new(secp256k1.ModNScalar).Mul2(&e, &d).Add(&k)
	sig := schnorr.NewSignature(&rPoint.X, sScalar)

	if !sig.Verify(msgHash, pub) {
		return nil, errors.New("produced signature failed verification")
	}
	return sig.Serialize(), nil
}
