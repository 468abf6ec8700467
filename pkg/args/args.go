// Package args parses command-line arguments of the form key=value.
package args

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const assign = "="

var (
	ErrInvalidFormat = errors.New("invalid argument format; must be 'arg=value'")
	ErrUnknownKey    = errors.New("unknown parameter")
	ErrMissing       = errors.New("missing mandatory argument")
)

// Error describes a rejected argument
type Error struct {
	Arg   string   // offending token or key
	Known []string // recognized keys, set for ErrUnknownKey
	Err   error
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrUnknownKey) {
		return fmt.Sprintf("'%s' - %v; here is the list of supported parameters: %s",
			e.Arg, e.Err, strings.Join(e.Known, ", "))
	}
	return fmt.Sprintf("'%s' - %v", e.Arg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Values holds parsed arguments
type Values struct {
	values map[string]string
}

// Parse reads tokens of the form key=value.
// known lists recognized keys; with acceptUnknown false any other key is rejected.
// Only the first '=' separates key from value.
func Parse(tokens []string, known []string, acceptUnknown bool) (*Values, error) {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	v := &Values{values: make(map[string]string, len(tokens))}
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, assign)
		if !ok {
			return nil, &Error{Arg: tok, Err: ErrInvalidFormat}
		}
		if _, isKnown := knownSet[key]; !isKnown && !acceptUnknown {
			return nil, &Error{Arg: key, Known: append([]string(nil), known...), Err: ErrUnknownKey}
		}
		v.values[key] = value
	}
	return v, nil
}

// Require returns an error naming the first key that was not supplied
func (v *Values) Require(keys ...string) error {
	for _, k := range keys {
		if !v.Has(k) {
			return &Error{Arg: k, Err: ErrMissing}
		}
	}
	return nil
}

// Has reports whether key was supplied
func (v *Values) Has(key string) bool {
	_, ok := v.values[key]
	return ok
}

// String returns the value of key or def when absent
func (v *Values) String(key, def string) string {
	if val, ok := v.values[key]; ok {
		return val
	}
	return def
}

// Int returns the value of key as a base 10 int, or def when absent.
// Leading zeros do not switch the base.
func (v *Values) Int(key string, def int) (int, error) {
	val, ok := v.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

// Duration returns the value of key as a duration ("5s", "250ms"), or def when absent.
// A bare number is read as milliseconds.
func (v *Values) Duration(key string, def time.Duration) (time.Duration, error) {
	val, ok := v.values[key]
	if !ok {
		return def, nil
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := cast.ToDurationE(val)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return d, nil
}

// Len returns the number of parsed arguments
func (v *Values) Len() int {
	return len(v.values)
}

// Join rebuilds the raw argument string forwarded to the workload script
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}
