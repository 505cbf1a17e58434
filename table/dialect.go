package table

import (
	"errors"
	"strings"
)

// Dialect holds the textual conventions used to render a table.
type Dialect struct {
	Delimiter      string `yaml:"delimiter"`
	LineTerminator string `yaml:"line-terminator"`
	// Header emits the column-name row and the type-name row.
	Header bool `yaml:"header"`
	// Quote escapes fields containing the delimiter, the line terminator or
	// a double quote. Without it such fields are written verbatim.
	Quote bool `yaml:"quote"`
}

// DefaultDialect is comma separated, newline terminated, with header rows.
var DefaultDialect = Dialect{
	Delimiter:      ",",
	LineTerminator: "\n",
	Header:         true,
}

// Validate checks that the dialect can separate fields and lines.
func (d Dialect) Validate() error {
	if d.Delimiter == "" {
		return errors.New("dialect delimiter is empty")
	}
	if d.LineTerminator == "" {
		return errors.New("dialect line terminator is empty")
	}
	if strings.Contains(d.Delimiter, d.LineTerminator) || strings.Contains(d.LineTerminator, d.Delimiter) {
		return errors.New("dialect delimiter and line terminator overlap")
	}
	return nil
}

// escape quotes a field if the dialect asks for it and the field needs it.
func (d Dialect) escape(field string) string {
	if !d.Quote {
		return field
	}
	if !strings.Contains(field, d.Delimiter) &&
		!strings.Contains(field, d.LineTerminator) &&
		!strings.ContainsAny(field, "\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

func (d Dialect) line(fields []string) string {
	for i, f := range fields {
		fields[i] = d.escape(f)
	}
	return strings.Join(fields, d.Delimiter)
}
