package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// EnumValidator accepts only the listed values.
func EnumValidator(allowed ...string) func(string) error {
	set := map[string]struct{}{}
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(s string) error {
		if _, ok := set[s]; ok {
			return nil
		}
		return fmt.Errorf("value %q is not one of %s", s, strings.Join(allowed, ", "))
	}
}

// MaxRunes limits a string to n characters.
func MaxRunes(n int) func(string) error {
	return func(s string) error {
		if c := utf8.RuneCountInString(s); c > n {
			return fmt.Errorf("length %d exceeds %d characters", c, n)
		}
		return nil
	}
}

func NonBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}

// JSONArray accepts a JSON array (of anything). Empty input is treated as [].
func JSONArray(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var v []json.RawMessage
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return errors.New("must be a JSON array")
	}
	return nil
}
