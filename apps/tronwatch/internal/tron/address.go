package tron

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

const (
	addressPrefix = 0x41
	addressLength = 21
)

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// HexToBase58 converts a 41-prefixed hex address to its base58check form.
func HexToBase58(hexAddress string) (string, error) {
	raw := common.FromHex(hexAddress)
	if len(raw) != addressLength || raw[0] != addressPrefix {
		return "", fmt.Errorf("invalid hex address %q", hexAddress)
	}
	return base58.Encode(append(raw, checksum(raw)...)), nil
}

// Base58ToHex converts a base58check address to its 41-prefixed hex form.
func Base58ToHex(address string) (string, error) {
	raw, err := decode(address)
	if err != nil {
		return "", err
	}
	return common.Bytes2Hex(raw), nil
}

func IsValidAddress(address string) bool {
	_, err := decode(address)
	return err == nil
}

func decode(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", address, err)
	}
	if len(decoded) != addressLength+4 {
		return nil, fmt.Errorf("invalid address length %q", address)
	}

	payload, sum := decoded[:addressLength], decoded[addressLength:]
	if payload[0] != addressPrefix {
		return nil, fmt.Errorf("invalid address prefix %q", address)
	}
	if !bytes.Equal(checksum(payload), sum) {
		return nil, fmt.Errorf("invalid address checksum %q", address)
	}
	return payload, nil
}

// normalizeAddress returns base58 for either encoding TronGrid may send.
func normalizeAddress(address string) string {
	if len(address) == 2*addressLength && strings.HasPrefix(address, "41") {
		if b58, err := HexToBase58(address); err == nil {
			return b58
		}
	}
	return address
}

// NormalizeAddress accepts a base58 or 41-prefixed hex address and returns the validated base58 form.
func NormalizeAddress(address string) (string, error) {
	b58 := normalizeAddress(strings.TrimSpace(address))
	if _, err := decode(b58); err != nil {
		return "", err
	}
	return b58, nil
}
