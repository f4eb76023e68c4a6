package models

import (
	"database/sql/driver"
	"fmt"
)

// enumSpec maps a closed uint8 enumeration to its wire/database names.
type enumSpec[T ~uint8] struct {
	kind  string
	names map[T]string
}

func (e enumSpec[T]) name(v T) string {
	if n, ok := e.names[v]; ok {
		return n
	}
	return fmt.Sprintf("%s(%d)", e.kind, uint8(v))
}

func (e enumSpec[T]) valid(v T) bool {
	_, ok := e.names[v]
	return ok
}

func (e enumSpec[T]) parse(s string) (T, error) {
	for v, n := range e.names {
		if n == s {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", e.kind, s)
}

func (e enumSpec[T]) value(v T) (driver.Value, error) {
	if !e.valid(v) {
		return nil, fmt.Errorf("invalid %s %d", e.kind, uint8(v))
	}
	return e.names[v], nil
}

func (e enumSpec[T]) scan(dst *T, src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return fmt.Errorf("null %s", e.kind)
	default:
		return fmt.Errorf("cannot scan %T into %s", src, e.kind)
	}
	parsed, err := e.parse(s)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

func (e enumSpec[T]) marshal(v T) ([]byte, error) {
	if !e.valid(v) {
		return nil, fmt.Errorf("invalid %s %d", e.kind, uint8(v))
	}
	return []byte(e.names[v]), nil
}

func (e enumSpec[T]) unmarshal(dst *T, b []byte) error {
	parsed, err := e.parse(string(b))
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}
