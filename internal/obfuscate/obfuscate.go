// Package obfuscate implements the portal's reversible password
// obfuscation and its masking helpers.
//
// Encode is NOT encryption. It exists for operator tooling and for the
// masked display on the admin dashboard. Stored credentials are bcrypt
// hashes and never pass through Decode.
package obfuscate

import (
	"encoding/base64"
	"strings"
)

const (
	// Salt is the fixed prefix joined to the plaintext before encoding.
	Salt = "trademark-portal-salt"

	// Placeholder is returned whenever a value cannot or should not be shown.
	Placeholder = "********"

	maskFill = "******"
)

// Encode returns base64(Salt + ":" + password).
func Encode(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(Salt + ":" + password))
}

// Decode reverses Encode. Any input that is not valid base64 or does not
// carry the salt prefix yields Placeholder. It never fails.
func Decode(encoded string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Placeholder
	}
	plain, ok := strings.CutPrefix(string(raw), Salt+":")
	if !ok {
		return Placeholder
	}
	return plain
}

// Mask keeps the first and last character and hides the rest behind a fixed
// six-character fill, so the output length never reveals the input length.
func Mask(password string) string {
	if password == "" {
		return ""
	}
	runes := []rune(password)
	if len(runes) <= 2 {
		return Placeholder
	}
	return string(runes[0]) + maskFill + string(runes[len(runes)-1])
}
