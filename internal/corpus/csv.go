// Package corpus reads attendee exports into raw records.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"meetmatch/internal/domain"
)

// Layout describes where the fields of an export live.
type Layout struct {
	// SkipRows is the number of preamble rows before the header.
	SkipRows int
	// NameColumns are joined with a space to form the display name.
	NameColumns []string
	// LinkColumn optionally holds a profile URL.
	LinkColumn string
}

// ReadFile reads a CSV export from path.
func ReadFile(path string, layout Layout) ([]domain.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()
	return Read(f, layout)
}

// Read parses a CSV export. Every non-empty column other than the name and
// link columns becomes a "Column: value" line of the profile text. Rows
// with a missing name or empty text are returned as-is so the profile
// store can count them as malformed.
func Read(r io.Reader, layout Layout) ([]domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for i := 0; i < layout.SkipRows; i++ {
		if _, err := cr.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("corpus: preamble row %d: %w", i+1, err)
		}
	}
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("corpus: header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	nameCols := make([]int, 0, len(layout.NameColumns))
	for _, col := range layout.NameColumns {
		i, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("corpus: name column %q not in header", col)
		}
		nameCols = append(nameCols, i)
	}
	linkCol := -1
	if layout.LinkColumn != "" {
		if i, ok := index[layout.LinkColumn]; ok {
			linkCol = i
		}
	}
	skip := make(map[int]bool, len(nameCols)+1)
	for _, i := range nameCols {
		skip[i] = true
	}
	skip[linkCol] = true

	var out []domain.RawRecord
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("corpus: row %d: %w", line, err)
		}
		if blank(row) {
			continue
		}
		var rec domain.RawRecord
		parts := make([]string, 0, len(nameCols))
		for _, i := range nameCols {
			if v := cell(row, i); v != "" {
				parts = append(parts, v)
			}
		}
		rec.Name = strings.Join(parts, " ")
		rec.Link = cell(row, linkCol)

		var text strings.Builder
		for i, h := range header {
			if skip[i] {
				continue
			}
			v := cell(row, i)
			if v == "" {
				continue
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			if h != "" {
				text.WriteString(h)
				text.WriteString(": ")
			}
			text.WriteString(v)
		}
		rec.ProfileText = text.String()
		out = append(out, rec)
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
