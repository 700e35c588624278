package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Secret file layout: one hex word, either 38 or 70 chars. The decoded
// bytes are XOR encrypted with a password-derived key and contain
// [network_byte, entropy_len, bip39_checksum, entropy...].

const encryptKeyHashMessage = "Secret Entropy Storage Genesis "

const (
	networkByteMainnet = 0
	networkByteSignet  = 4
)

func encryptionKey(password string) []byte {
	h := sha256.Sum256([]byte(encryptKeyHashMessage + password))
	return h[:]
}

// xorCycle applies the repeating key; it is its own inverse.
func xorCycle(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// checksumOfEntropy returns the BIP-39 checksum byte: the first
// ENT/32 bits of SHA-256(entropy), right aligned.
func checksumOfEntropy(entropy []byte) (byte, error) {
	bits := len(entropy) * 8 / 32
	if bits < 1 || bits > 8 {
		return 0, fmt.Errorf("unsupported entropy length %d", len(entropy))
	}
	h := sha256.Sum256(entropy)
	return h[0] >> (8 - bits), nil
}

func networkFromByte(b byte) (string, error) {
	switch b {
	case networkByteMainnet:
		return NetworkMainnet, nil
	case networkByteSignet:
		return NetworkSignet, nil
	default:
		return "", fmt.Errorf("invalid network byte %d, check the encryption password and the secret file", b)
	}
}

func networkByte(network string) (byte, error) {
	switch network {
	case NetworkMainnet:
		return networkByteMainnet, nil
	case NetworkSignet:
		return networkByteSignet, nil
	default:
		return 0, fmt.Errorf("unsupported network %q", network)
	}
}

// LoadSecretFile reads and decrypts a secret file, returning the seed
// entropy and the network it was written for.
func LoadSecretFile(path, password string) (entropy []byte, network string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("could not read secret file: %w", err)
	}
	if len(raw) < 4 {
		return nil, "", fmt.Errorf("secret file too short (%d bytes)", len(raw))
	}

	firstLine := strings.SplitN(string(raw), "\n", 2)[0]
	hexData := strings.SplitN(strings.TrimSpace(firstLine), " ", 2)[0]
	if len(hexData) != 38 && len(hexData) != 70 {
		return nil, "", fmt.Errorf("invalid secret payload length %d", len(hexData))
	}
	encrypted, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, "", fmt.Errorf("could not parse secret payload as hex: %w", err)
	}

	return decryptPayload(encrypted, password)
}

func decryptPayload(encrypted []byte, password string) (entropy []byte, network string, err error) {
	decrypted := xorCycle(encrypted, encryptionKey(password))

	network, err = networkFromByte(decrypted[0])
	if err != nil {
		return nil, "", err
	}
	entropyLen := int(decrypted[1])
	checksumRead := decrypted[2]
	entropy = decrypted[3:]

	if entropyLen != len(entropy) {
		return nil, "", fmt.Errorf("entropy length mismatch, %d vs %d, check the encryption password and the secret file", entropyLen, len(entropy))
	}
	checksumComputed, err := checksumOfEntropy(entropy)
	if err != nil {
		return nil, "", err
	}
	if checksumRead != checksumComputed {
		return nil, "", fmt.Errorf("checksum mismatch, %d vs %d, check the encryption password and the secret file", checksumRead, checksumComputed)
	}
	return entropy, network, nil
}

// SaveSecretFile encrypts the entropy and writes it as a hex payload.
// The file must not already exist.
func SaveSecretFile(path, password string, entropy []byte, network string) error {
	if len(entropy) != 16 && len(entropy) != 32 {
		return fmt.Errorf("unsupported entropy length %d", len(entropy))
	}
	netByte, err := networkByte(network)
	if err != nil {
		return err
	}
	checksum, err := checksumOfEntropy(entropy)
	if err != nil {
		return err
	}

	plain := make([]byte, 0, 3+len(entropy))
	plain = append(plain, netByte, byte(len(entropy)), checksum)
	plain = append(plain, entropy...)
	encrypted := xorCycle(plain, encryptionKey(password))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("could not create secret file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(encrypted)); err != nil {
		return fmt.Errorf("could not write secret file: %w", err)
	}
	return nil
}
