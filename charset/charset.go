// Package charset converts between Go strings and the byte encodings that
// exported files can be written in.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names a text encoding.
type Encoding string

// Supported encodings.
const (
	UTF8    Encoding = "utf-8"
	UTF16LE Encoding = "utf-16le"
	UTF16BE Encoding = "utf-16be"
	Latin1  Encoding = "latin1"
)

// Supported lists every encoding accepted by Parse.
var Supported = []Encoding{UTF8, UTF16LE, UTF16BE, Latin1}

var aliases = map[string]Encoding{
	"":           UTF8,
	"utf8":       UTF8,
	"utf16le":    UTF16LE,
	"ucs2":       UTF16LE,
	"utf16be":    UTF16BE,
	"iso-8859-1": Latin1,
	"binary":     Latin1,
}

// Parse normalizes an encoding name. The empty string selects UTF-8.
func Parse(name string) (Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if e, ok := aliases[n]; ok {
		return e, nil
	}
	if slices.Contains(Supported, Encoding(n)) {
		return Encoding(n), nil
	}
	return "", fmt.Errorf("unsupported encoding %q", name)
}

func (e Encoding) codec() (encoding.Encoding, error) {
	switch e {
	case UTF8, "":
		return nil, nil
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case Latin1:
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", string(e))
}

// Encode converts s to bytes in the encoding.
func (e Encoding) Encode(s string) ([]byte, error) {
	c, err := e.codec()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return []byte(s), nil
	}
	b, err := c.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e, err)
	}
	return b, nil
}

// Decode converts bytes in the encoding back to a string.
func (e Encoding) Decode(b []byte) (string, error) {
	c, err := e.codec()
	if err != nil {
		return "", err
	}
	if c == nil {
		return string(b), nil
	}
	out, err := c.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", e, err)
	}
	return string(out), nil
}

// Len returns the number of bytes s occupies once encoded.
func (e Encoding) Len(s string) (int, error) {
	if e == UTF8 || e == "" {
		return len(s), nil
	}
	b, err := e.Encode(s)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (e Encoding) String() string {
	if e == "" {
		return string(UTF8)
	}
	return string(e)
}
