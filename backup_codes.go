package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const backupCodeRawBytes = 4 // 8 hex characters per code

// newBackupCode returns one canonical backup code: 8 uppercase hex
// characters without separator.
func newBackupCode() (string, error) {
	raw := make([]byte, backupCodeRawBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// FormatBackupCode renders a canonical code for display, split in half
// with a hyphen (XXXX-XXXX).
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode strips separators and whitespace and uppercases,
// so the display form and the stored form compare equal.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// consumeBackupCode removes at most one occurrence of candidate from set.
// The candidate is canonicalized first; set entries are assumed canonical.
// Returns whether a match was removed and the surviving set.
func consumeBackupCode(candidate string, set []string) (bool, []string) {
	canonical := CanonicalizeBackupCode(candidate)
	if canonical == "" {
		return false, set
	}

	for i, code := range set {
		if code == canonical {
			remaining := make([]string, 0, len(set)-1)
			remaining = append(remaining, set[:i]...)
			remaining = append(remaining, set[i+1:]...)
			return true, remaining
		}
	}
	return false, set
}

func encodeBackupCodeSet(codes []string) ([]byte, error) {
	return json.Marshal(codes)
}

func decodeBackupCodeSet(data []byte) ([]string, error) {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func formatBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = FormatBackupCode(c)
	}
	return out
}
