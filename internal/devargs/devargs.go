// Package devargs parses device argument strings such as
// "hackrf=0,buffers=32,bias=1,label='HackRF One 1a2b3c'".
package devargs

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed device arguments")

// Args maps argument keys to raw values. Keys given without a value map to "".
type Args map[string]string

// Parse splits s on commas outside quotes. Values may be wrapped in single or
// double quotes, which are stripped. Later duplicates override earlier ones.
func Parse(s string) (Args, error) {
	args := Args{}
	var (
		tok   strings.Builder
		quote rune
	)
	flush := func() error {
		field := strings.TrimSpace(tok.String())
		tok.Reset()
		if field == "" {
			return nil
		}
		key, val, _ := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("%w: empty key in %q", ErrMalformed, field)
		}
		val = strings.TrimSpace(val)
		if n := len(val); n >= 2 && (val[0] == '\'' || val[0] == '"') && val[n-1] == val[0] {
			val = val[1 : n-1]
		}
		args[key] = val
		return nil
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			tok.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			tok.WriteRune(r)
		case r == ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			tok.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote", ErrMalformed)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return args, nil
}

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns the value of key or def when absent.
func (a Args) String(key, def string) string {
	if v, ok := a[key]; ok {
		return v
	}
	return def
}

// Int returns the value of key as an integer or def when absent or empty.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not an integer", ErrMalformed, key, v)
	}
	return int(n), nil
}

// Float returns the value of key as a float (accepting forms like 2.4e9) or def.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a number", ErrMalformed, key, v)
	}
	return f, nil
}

// Bool treats a bare key as true. It accepts 1/0, true/false, on/off, yes/no.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "", "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	default:
		return def, fmt.Errorf("%w: %s=%q is not a boolean", ErrMalformed, key, v)
	}
}

// Encode renders the arguments in key order, quoting values that need it.
func (a Args) Encode() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := a[k]
		switch {
		case v == "":
			parts = append(parts, k)
		case strings.ContainsAny(v, ", ='\""):
			parts = append(parts, k+"='"+v+"'")
		default:
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ",")
}
