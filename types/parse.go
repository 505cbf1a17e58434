package types

import (
	"fmt"
	"strings"
)

var scalars = map[string]Type{
	"string":     String,
	"int":        Int,
	"float":      Float,
	"bigint":     BigInt,
	"bigdecimal": Decimal,
	"decimal":    Decimal,
	"boolean":    Bool,
	"bool":       Bool,
	"bytes":      Bytes,
	"datetime":   Timestamp,
	"timestamp":  Timestamp,
}

// Parse returns the Type named by name, e.g. "int" or "array<nullable<string>>".
func Parse(name string) (Type, error) {
	n := strings.TrimSpace(name)
	if t, ok := scalars[n]; ok {
		return t, nil
	}

	open := strings.IndexByte(n, '<')
	if open < 0 || !strings.HasSuffix(n, ">") {
		return Type{}, fmt.Errorf("unknown type %q", name)
	}
	inner, err := Parse(n[open+1 : len(n)-1])
	if err != nil {
		return Type{}, fmt.Errorf("%s: %w", name, err)
	}
	switch n[:open] {
	case "nullable", "option":
		return Nullable(inner), nil
	case "array":
		return Array(inner), nil
	}
	return Type{}, fmt.Errorf("unknown type wrapper %q", n[:open])
}

