package payment

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ValidateAddress checks that addr is a 0x-prefixed 20-byte hex address.
// Mixed-case addresses must carry a valid EIP-55 checksum; all-lower and
// all-upper addresses are accepted as unchecksummed.
func ValidateAddress(addr string) error {
	hexPart, ok := strings.CutPrefix(addr, "0x")
	if !ok || len(hexPart) != 40 {
		return fmt.Errorf("%w: %q is not a 0x-prefixed 40 character hex string", ErrInvalidAddress, addr)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%w: %q is not hex", ErrInvalidAddress, addr)
	}
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return nil
	}
	if ChecksumAddress(addr) != addr {
		return fmt.Errorf("%w: %q has a bad EIP-55 checksum", ErrInvalidAddress, addr)
	}
	return nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address. The
// input is assumed to be well formed.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(addr, "0x"))

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - ('a' - 'A')
		}
	}
	return "0x" + string(out)
}
