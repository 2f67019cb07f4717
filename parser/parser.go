// Package parser turns raw registry extracts into typed population records.
//
// The upstream files are pipe-delimited with a fixed 13-field layout. Lines
// frequently carry a UTF-8 byte-order mark, carriage returns and stray
// leading/trailing delimiters, all of which are trimmed before splitting.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the fixed arity of one registry line after splitting on '|'.
const FieldCount = 13

// lineCutset holds the characters trimmed from both ends of a raw line
// before splitting: BOM, delimiter, space, CR, LF.
const lineCutset = "\ufeff| \r\n"

// Record is one row of the yearly population registry extract. Records are
// immutable once parsed and keyed by (DataYear, CCCode) in the staging store.
type Record struct {
	DataYear        int    // requested calendar year, not the source identifier
	YYMM            string // period code, "YYMM"-shaped
	CCCode          int    // area code
	CCDesc          string
	RegionCode      string
	RegionDesc      string
	DistrictCode    string // ccaatt
	DistrictDesc    string
	SubdistrictCode string // ccaattmm
	SubdistrictDesc string
	Male            int
	Female          int
	Total           int
	House           int
}

// FieldCountError reports a line whose field count differs from the fixed
// 13-field layout.
type FieldCountError struct {
	Got int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("expected %d fields, got %d", FieldCount, e.Got)
}

// NumberError reports a numeric field that did not parse as an integer after
// thousands separators were stripped.
type NumberError struct {
	Field string
	Value string
}

func (e *NumberError) Error() string {
	return fmt.Sprintf("field %s: invalid number %q", e.Field, e.Value)
}

// LineResult is the outcome for one line of a blob: either a record or the
// parse error that rejected it. Line numbers are 1-based.
type LineResult struct {
	Line   int
	Record Record
	Err    error
}

// CleanLine strips the byte-order mark, stray delimiters and surrounding
// whitespace from one raw line.
func CleanLine(line string) string {
	return strings.Trim(line, lineCutset)
}

// ParseLine parses one raw line into a Record for the given calendar year.
func ParseLine(year int, line string) (Record, error) {
	return ParseFields(year, strings.Split(CleanLine(line), "|"))
}

// ParseFields assembles a Record from an already-split field sequence. This
// is the normalization point shared by string and pre-split inputs: callers
// with raw text go through ParseLine, callers that already hold fields come
// here directly.
func ParseFields(year int, fields []string) (Record, error) {
	if len(fields) != FieldCount {
		return Record{}, &FieldCountError{Got: len(fields)}
	}

	ccCode, err := toInt("cc_code", fields[1])
	if err != nil {
		return Record{}, err
	}
	male, err := toInt("male", fields[9])
	if err != nil {
		return Record{}, err
	}
	female, err := toInt("female", fields[10])
	if err != nil {
		return Record{}, err
	}
	total, err := toInt("total", fields[11])
	if err != nil {
		return Record{}, err
	}
	house, err := toInt("house", fields[12])
	if err != nil {
		return Record{}, err
	}

	return Record{
		DataYear:        year,
		YYMM:            fields[0],
		CCCode:          ccCode,
		CCDesc:          fields[2],
		RegionCode:      fields[3],
		RegionDesc:      fields[4],
		DistrictCode:    fields[5],
		DistrictDesc:    fields[6],
		SubdistrictCode: fields[7],
		SubdistrictDesc: fields[8],
		Male:            male,
		Female:          female,
		Total:           total,
		House:           house,
	}, nil
}

// ParseBlob parses a whole raw extract into one result per line, preserving
// line order. A malformed line is reported in place and never discards its
// siblings.
func ParseBlob(year int, blob string) []LineResult {
	lines := strings.Split(blob, "\n")
	results := make([]LineResult, 0, len(lines))

	for i, line := range lines {
		rec, err := ParseLine(year, line)
		results = append(results, LineResult{
			Line:   i + 1,
			Record: rec,
			Err:    err,
		})
	}

	return results
}

// toInt parses a registry integer field, tolerating thousands separators
// ("12,345" -> 12345).
func toInt(field, value string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return 0, &NumberError{Field: field, Value: value}
	}
	return n, nil
}
