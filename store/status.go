package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chainexport/csvstore/charset"
	"github.com/chainexport/csvstore/table"
	"github.com/chainexport/csvstore/types"
)

var statusTable = table.MustNew("status", table.Column{Name: "height", Type: types.Int})

// renderStatus returns the status record: a header row, a type row and one
// data row holding height.
func renderStatus(height int64, dialect table.Dialect, enc charset.Encoding) (string, error) {
	dialect.Header = true
	b := table.NewBuilder(statusTable, dialect, enc)
	b.Append(table.Record{"height": height})
	return b.Data()
}

// parseStatus reads the height out of a status record.
func parseStatus(data string, dialect table.Dialect) (int64, error) {
	data = strings.TrimSuffix(data, dialect.LineTerminator)
	rows := strings.Split(data, dialect.LineTerminator)
	if len(rows) != 3 {
		return 0, fmt.Errorf("%w: expected 3 rows, found %d", ErrCorruptStatus, len(rows))
	}
	h, err := strconv.ParseInt(strings.TrimSpace(rows[2]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptStatus, err)
	}
	return h, nil
}
