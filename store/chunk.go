package store

import (
	"fmt"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/table"
)

// Chunk is a pending export window: a height range and one builder per
// table.
type Chunk struct {
	from     int64
	to       int64
	builders map[string]*table.Builder
	order    []string
}

func newChunk(from, to int64, tables []*table.Table, dialect table.Dialect, enc charset.Encoding) *Chunk {
	c := &Chunk{
		from:     from,
		to:       to,
		builders: make(map[string]*table.Builder, len(tables)),
		order:    make([]string, 0, len(tables)),
	}
	for _, t := range tables {
		c.builders[t.Name()] = table.NewBuilder(t, dialect, enc)
		c.order = append(c.order, t.Name())
	}
	return c
}

// From returns the first height of the chunk.
func (c *Chunk) From() int64 {
	return c.from
}

// To returns the last height of the chunk.
func (c *Chunk) To() int64 {
	return c.to
}

// Name is the directory the chunk is flushed to.
func (c *Chunk) Name() string {
	return fmt.Sprintf("%d-%d", c.from, c.to)
}

// ChangeRange widens the upper bound to to. It never narrows it.
func (c *Chunk) ChangeRange(to int64) {
	if to > c.to {
		c.to = to
	}
}

// Builder returns the builder for a table.
func (c *Chunk) Builder(name string) (*table.Builder, error) {
	b, ok := c.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTable, name)
	}
	return b, nil
}

// Builders returns the builders in table registration order.
func (c *Chunk) Builders() []*table.Builder {
	out := make([]*table.Builder, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.builders[name])
	}
	return out
}

// Rows returns the number of buffered records over all tables.
func (c *Chunk) Rows() int {
	n := 0
	for _, b := range c.builders {
		n += b.Len()
	}
	return n
}

// TotalSize renders pending records and sums the encoded size of every
// table. It is not cached.
func (c *Chunk) TotalSize() (int, error) {
	total := 0
	for _, name := range c.order {
		n, err := c.builders[name].Size()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// mark records the chunk state so a retried transaction can be undone.
type mark struct {
	to   int64
	lens map[string]int
}

func (c *Chunk) mark() mark {
	m := mark{to: c.to, lens: make(map[string]int, len(c.builders))}
	for name, b := range c.builders {
		m.lens[name] = b.Len()
	}
	return m
}

func (c *Chunk) reset(m mark) error {
	c.to = m.to
	for name, b := range c.builders {
		if err := b.Truncate(m.lens[name]); err != nil {
			return err
		}
	}
	return nil
}
