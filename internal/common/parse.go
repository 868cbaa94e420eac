package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := *val
	base := 10

	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

// ErrNullQuantity is returned by ParseQuantity for a JSON null.
var ErrNullQuantity = errors.New("quantity is null")

// ParseQuantity decodes a JSON quantity that may be a hex string, a decimal
// string or a bare JSON number. Tron-family nodes mix all three.
func ParseQuantity(raw json.RawMessage) (uint64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, ErrNullQuantity
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, fmt.Errorf("invalid quantity %s: %w", s, err)
		}
		v, err := ParseUint64orHex(&str)
		if err != nil {
			return 0, fmt.Errorf("invalid quantity %q: %w", str, err)
		}
		return v, nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %s: %w", s, err)
	}
	return v, nil
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
