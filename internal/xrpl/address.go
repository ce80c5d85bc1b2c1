package xrpl

import (
	"bytes"
	"crypto/sha256"
	"strings"
)

// rippleAlphabet is the base58 dictionary used by classic addresses.
const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

// accountIDVersion is the version byte of a classic account address.
const accountIDVersion = 0x00

// IsValidAddress reports whether s is a well-formed classic address:
// base58 in the ripple alphabet, version byte 0x00, a 20-byte account id,
// and a valid double-sha256 checksum.
func IsValidAddress(s string) bool {
	payload, ok := decodeBase58Check(s)
	if !ok {
		return false
	}
	return len(payload) == 21 && payload[0] == accountIDVersion
}

func decodeBase58Check(input string) ([]byte, bool) {
	if input == "" {
		return nil, false
	}
	decoded := make([]byte, 0, len(input))
	for i := 0; i < len(input); i++ {
		digit := strings.IndexByte(rippleAlphabet, input[i])
		if digit < 0 {
			return nil, false
		}
		carry := int64(digit)
		for j := len(decoded) - 1; j >= 0; j-- {
			carry += int64(decoded[j]) * 58
			decoded[j] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			decoded = append([]byte{byte(carry & 0xff)}, decoded...)
			carry >>= 8
		}
	}
	// Leading zero bytes encode as leading alphabet[0] characters.
	for i := 0; i < len(input) && input[i] == rippleAlphabet[0]; i++ {
		decoded = append([]byte{0}, decoded...)
	}
	if len(decoded) < 5 {
		return nil, false
	}
	payload, checksum := decoded[:len(decoded)-4], decoded[len(decoded)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return nil, false
	}
	return payload, true
}
