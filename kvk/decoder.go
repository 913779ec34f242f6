package kvk

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"
)

// HeaderIndex maps a normalized column name to its position in a row. It is
// built once per document so rows can be decoded regardless of column order
// or of columns missing from a given export.
type HeaderIndex map[string]int

// DecodeStats summarizes a ParseDocument run.
type DecodeStats struct {
	DataLines  int `json:"dataLines"`
	BlankLines int `json:"blankLines"`
	Decoded    int `json:"decoded"`
	Skipped    int `json:"skipped"`
}

func ParseHeader(line string) HeaderIndex {
	fields := splitLine(line)
	headers := make(HeaderIndex, len(fields))
	for idx, col := range fields {
		name := NormalizeColumnName(col)
		if name == "" {
			continue
		}
		if _, seen := headers[name]; seen {
			continue
		}
		headers[name] = idx
	}
	return headers
}

// DecodeLine decodes one data line. It reports false for blank lines and for
// rows without a usable lord_id; every other field falls back to its zero
// value when missing or unparseable.
func DecodeLine(headers HeaderIndex, line string) (PlayerStatRecord, bool) {
	if strings.TrimSpace(line) == "" {
		return PlayerStatRecord{}, false
	}
	return DecodeFields(headers, splitLine(line))
}

func DecodeFields(headers HeaderIndex, fields []string) (PlayerStatRecord, bool) {
	var rec PlayerStatRecord
	for _, c := range columns {
		raw, ok := headers.value(fields, c.name)
		switch c.kind {
		case kindInt:
			if ok {
				*c.num(&rec) = parseCount(raw)
			}
		case kindString:
			if ok {
				*c.str(&rec) = strings.TrimSpace(raw)
			}
		case kindNullableInt:
			if ok {
				*c.opt(&rec) = parseOptionalID(raw)
			}
		}
	}
	if rec.LordID == 0 {
		return PlayerStatRecord{}, false
	}
	return rec, true
}

// ParseDocument decodes a whole CSV document: the first line is the header,
// every later non-blank line is a data row.
func ParseDocument(text string) ([]PlayerStatRecord, DecodeStats) {
	var stats DecodeStats
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil, stats
	}

	headers := ParseHeader(lines[0])
	records := make([]PlayerStatRecord, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			stats.BlankLines++
			continue
		}
		stats.DataLines++
		rec, ok := DecodeLine(headers, line)
		if !ok {
			stats.Skipped++
			continue
		}
		records = append(records, rec)
	}
	stats.Decoded = len(records)
	return records, stats
}

// EncodeCSV writes records with the canonical header so that the output can
// be fed back through ParseDocument.
func EncodeCSV(w io.Writer, records []PlayerStatRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ColumnNames()); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for i := range records {
		rec := records[i]
		for j, c := range columns {
			switch c.kind {
			case kindInt:
				row[j] = strconv.FormatInt(*c.num(&rec), 10)
			case kindString:
				row[j] = *c.str(&rec)
			case kindNullableInt:
				row[j] = ""
				if v := *c.opt(&rec); v != nil {
					row[j] = strconv.FormatInt(*v, 10)
				}
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (h HeaderIndex) value(fields []string, column string) (string, bool) {
	idx, ok := h[column]
	if !ok || idx < 0 || idx >= len(fields) {
		return "", false
	}
	return fields[idx], true
}

// splitLine splits a single line into fields. Quoted fields may contain
// commas; a line the csv reader rejects is split on bare commas instead.
func splitLine(line string) []string {
	line = strings.TrimRight(line, "\r")
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return fields
}

func parseCount(raw string) int64 {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil || math.IsNaN(f) || f >= math.MaxInt64 || f < 0 {
			return 0
		}
		n = int64(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

func parseOptionalID(raw string) *int64 {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
