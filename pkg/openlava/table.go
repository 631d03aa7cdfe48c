package openlava

import (
	"strings"
)

// Table is the parsed output of a column-formatted command such as "bqueues -w".
// Column order follows the header line.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseTable parses command output whose first non-empty line is a header.
// Each row is split on whitespace; missing trailing values are left empty and
// surplus values are joined into the last column.
func ParseTable(output string) *Table {
	t := &Table{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if t.Header == nil {
			t.Header = fields
			continue
		}

		row := make([]string, len(t.Header))
		for i := range row {
			if i < len(fields) {
				row[i] = fields[i]
			}
		}
		if len(fields) > len(t.Header) {
			last := len(t.Header) - 1
			row[last] = strings.Join(fields[last:], " ")
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of the named column, or -1
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns every value of the named column, or nil if there is no such column
func (t *Table) Column(name string) []string {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values
}

// Get returns the value of column name in row i
func (t *Table) Get(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][idx]
}
