package table

import (
	"fmt"
	"strings"

	"github.com/chainexport/csvstore/charset"
)

// Builder buffers the records of one table and renders them to text.
//
// Rendering is incremental: Data and Size only render the records appended
// since the previous call, so repeated size checks between appends stay
// cheap and never duplicate output.
type Builder struct {
	table   *Table
	dialect Dialect
	enc     charset.Encoding

	records  []Record
	rendered int
	started  bool
	lines    int
	buf      strings.Builder
	size     int
}

// NewBuilder returns an empty builder for t.
func NewBuilder(t *Table, dialect Dialect, enc charset.Encoding) *Builder {
	return &Builder{
		table:   t,
		dialect: dialect,
		enc:     enc,
	}
}

// Table returns the schema the builder renders.
func (b *Builder) Table() *Table {
	return b.table
}

// Append adds records in call order. Values are only checked at render time.
func (b *Builder) Append(records ...Record) {
	b.records = append(b.records, records...)
}

// Len returns the number of appended records.
func (b *Builder) Len() int {
	return len(b.records)
}

// Truncate drops every record after the first n. Records that were already
// rendered cannot be dropped.
func (b *Builder) Truncate(n int) error {
	if n < b.rendered {
		return fmt.Errorf("table %s: cannot truncate to %d, %d records already rendered", b.table.name, n, b.rendered)
	}
	if n < len(b.records) {
		for i := n; i < len(b.records); i++ {
			b.records[i] = nil
		}
		b.records = b.records[:n]
	}
	return nil
}

// Data renders pending records and returns the full text of the table.
func (b *Builder) Data() (string, error) {
	if err := b.render(); err != nil {
		return "", err
	}
	return b.buf.String(), nil
}

// Size renders pending records and returns the encoded byte length of the
// table's text.
func (b *Builder) Size() (int, error) {
	if err := b.render(); err != nil {
		return 0, err
	}
	return b.size, nil
}

func (b *Builder) render() error {
	if !b.started {
		if b.dialect.Header {
			rows := b.table.headerRows()
			header := b.dialect.line(rows[0]) + b.dialect.LineTerminator + b.dialect.line(rows[1])
			if err := b.writeLine(header); err != nil {
				return err
			}
		}
		b.started = true
	}
	for b.rendered < len(b.records) {
		fields, err := b.table.fields(b.records[b.rendered])
		if err != nil {
			return fmt.Errorf("record %d: %w", b.rendered, err)
		}
		if err := b.writeLine(b.dialect.line(fields)); err != nil {
			return err
		}
		b.rendered++
	}
	return nil
}

func (b *Builder) writeLine(line string) error {
	if b.lines > 0 {
		line = b.dialect.LineTerminator + line
	}
	n, err := b.enc.Len(line)
	if err != nil {
		return fmt.Errorf("table %s: %w", b.table.name, err)
	}
	b.buf.WriteString(line)
	b.size += n
	b.lines++
	return nil
}
