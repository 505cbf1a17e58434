package importer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/chainexport/csvstore/types"
)

var null = []byte("null")

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), null)
}

// coerce converts a JSON value into the Go value the column type serializes.
func coerce(t types.Type, raw json.RawMessage) (interface{}, error) {
	if isNull(raw) {
		return nil, nil
	}
	switch t.Kind() {
	case types.KindNullable:
		elem, _ := t.Elem()
		return coerce(elem, raw)
	case types.KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		elem, _ := t.Elem()
		out := make([]interface{}, len(items))
		for i, item := range items {
			v, err := coerce(elem, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case types.KindString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case types.KindBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case types.KindInt:
		text, err := numberText(raw)
		if err != nil {
			return nil, err
		}
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i, nil
		}
		// the int type rejects fractional values itself
		return strconv.ParseFloat(text, 64)
	case types.KindFloat:
		text, err := numberText(raw)
		if err != nil {
			return nil, err
		}
		return strconv.ParseFloat(text, 64)
	case types.KindBigInt:
		text, err := numberText(raw)
		if err != nil {
			return nil, err
		}
		i, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", text)
		}
		return i, nil
	case types.KindDecimal:
		text, err := numberText(raw)
		if err != nil {
			return nil, err
		}
		return decimal.NewFromString(text)
	case types.KindBytes:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		return hex.DecodeString(s)
	case types.KindTimestamp:
		return timestamp(raw)
	}
	return nil, fmt.Errorf("unsupported column type %s", t.Name())
}

// numberText returns the text of a JSON number, or of a string holding one.
// Large integers are commonly sent as strings.
func numberText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// timestamp accepts RFC 3339 text or epoch milliseconds.
func timestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
