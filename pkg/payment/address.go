package payment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

var ErrInvalidAddress = errors.New("invalid tron address")

const tronVersion = 0x41

// tronHex converts a base58check Tron address to the hex form used inside
// transactions ("41" followed by 20 bytes). Hex input is returned as is.
func tronHex(address string) (string, error) {
	if len(address) == 42 && strings.HasPrefix(address, "41") {
		if _, err := hex.DecodeString(address); err == nil {
			return strings.ToLower(address), nil
		}
	}

	decoded, err := base58.Decode(address)
	if err != nil || len(decoded) != 25 || decoded[0] != tronVersion {
		return "", ErrInvalidAddress
	}
	payload, checksum := decoded[:21], decoded[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return "", ErrInvalidAddress
	}
	return hex.EncodeToString(payload), nil
}
