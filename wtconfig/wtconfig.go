// Package wtconfig parses WiredTiger configuration strings: comma-separated
// key=value lists where values may be bare, double-quoted, or parenthesized
// nested lists. The bootstrap turtle file and every metadata table value use
// this format.
package wtconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds one parsed configuration level. Nested parenthesized values
// are kept as raw text and re-parsed on demand with Sub.
type Config map[string]string

// Parse splits a configuration string into its top-level key/value pairs.
// Keys without a value map to the empty string.
func Parse(s string) (Config, error) {
	cfg := make(Config)
	for len(s) > 0 {
		item, rest, err := splitItem(s)
		if err != nil {
			return nil, err
		}
		s = rest
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, val := item, ""
		if i := indexTopLevel(item, '='); i >= 0 {
			key, val = item[:i], item[i+1:]
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) && len(val) >= 2 {
			val = val[1 : len(val)-1]
		} else if strings.HasPrefix(val, "(") && strings.HasSuffix(val, ")") {
			val = val[1 : len(val)-1]
		}
		cfg[key] = val
	}
	return cfg, nil
}

// Sub parses the nested configuration stored under key.
func (c Config) Sub(key string) (Config, error) {
	v, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("wtconfig: no %q entry", key)
	}
	return Parse(v)
}

// Has reports whether key is present at this level.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Int returns the integer stored under key, or def when absent.
func (c Config) Int(key string, def int64) (int64, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wtconfig: %s=%q is not an integer", key, v)
	}
	return n, nil
}

// Size returns the byte count stored under key, honoring WiredTiger's
// K/M/G/T/P suffixes (powers of 1024), or def when absent.
func (c Config) Size(key string, def int64) (int64, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	return ParseSize(v)
}

// ParseSize parses a size value such as "4KB", "512B" or "32768".
func ParseSize(s string) (int64, error) {
	mult := int64(1)
	t := strings.ToUpper(strings.TrimSpace(s))
	t = strings.TrimSuffix(t, "B")
	switch {
	case strings.HasSuffix(t, "K"):
		mult, t = 1<<10, t[:len(t)-1]
	case strings.HasSuffix(t, "M"):
		mult, t = 1<<20, t[:len(t)-1]
	case strings.HasSuffix(t, "G"):
		mult, t = 1<<30, t[:len(t)-1]
	case strings.HasSuffix(t, "T"):
		mult, t = 1<<40, t[:len(t)-1]
	case strings.HasSuffix(t, "P"):
		mult, t = 1<<50, t[:len(t)-1]
	}
	n, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wtconfig: bad size %q", s)
	}
	return n * mult, nil
}

// splitItem cuts the first top-level comma-separated item off s.
func splitItem(s string) (item, rest string, err error) {
	i := indexTopLevel(s, ',')
	if i < 0 {
		if err := checkBalanced(s); err != nil {
			return "", "", err
		}
		return s, "", nil
	}
	if err := checkBalanced(s[:i]); err != nil {
		return "", "", err
	}
	return s[:i], s[i+1:], nil
}

// indexTopLevel finds sep outside parentheses and double quotes.
func indexTopLevel(s string, sep byte) int {
	depth := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quoted:
			if c == '"' {
				quoted = false
			}
		case c == '"':
			quoted = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			return i
		}
	}
	return -1
}

func checkBalanced(s string) error {
	depth := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quoted:
			if c == '"' {
				quoted = false
			}
		case c == '"':
			quoted = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		}
	}
	if depth != 0 || quoted {
		return fmt.Errorf("wtconfig: unbalanced configuration string %q", s)
	}
	return nil
}
