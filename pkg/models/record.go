// Package models provides the data model forwarded by the connector.
//
// A Record is the unit handed to the sheets sink: where to write (spreadsheet
// and range), how to lay the values out (major dimension), and the values
// themselves. Records are decoded from the raw bytes produced by a stream
// source and are treated as immutable afterwards.
package models

import (
	"bytes"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

// Major dimension values understood by the Sheets API. The decoder passes
// any string through; the remote endpoint is the judge of validity.
const (
	DimensionRows    = "ROWS"
	DimensionColumns = "COLUMNS"
)

// Record is one decoded stream item.
type Record struct {
	// Range is the A1 notation target, e.g. "Sheet1!A1"
	Range string `json:"range"`
	// Values is the row/column matrix of JSON scalars
	Values [][]interface{} `json:"values"`
	// MajorDimension is ROWS or COLUMNS
	MajorDimension string `json:"major_dimension"`
	// SpreadsheetID identifies the destination spreadsheet
	SpreadsheetID string `json:"spreadsheet_id"`
}

// wireRecord mirrors Record with pointers so absent and null fields can be
// told apart from empty ones.
type wireRecord struct {
	Range          *string          `json:"range"`
	Values         *[][]interface{} `json:"values"`
	MajorDimension *string          `json:"major_dimension"`
	SpreadsheetID  *string          `json:"spreadsheet_id"`
}

// DecodeRecord turns raw stream bytes into a Record. All four fields must be
// present and non-null and every cell must be a JSON scalar; anything else is
// an errors.ErrorTypeData error and no partial record is returned. Unknown
// fields are ignored. Numeric cells keep their literal text as a
// gojson.Number, so large integers reach the sheet unrounded.
func DecodeRecord(data []byte) (*Record, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid record json")
	}
	var trailing gojson.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, errors.New(errors.ErrorTypeData, "invalid record json: trailing data after object")
	}

	switch {
	case w.Range == nil:
		return nil, missingField("range")
	case w.Values == nil:
		return nil, missingField("values")
	case w.MajorDimension == nil:
		return nil, missingField("major_dimension")
	case w.SpreadsheetID == nil:
		return nil, missingField("spreadsheet_id")
	}

	for i, row := range *w.Values {
		if row == nil {
			return nil, errors.Newf(errors.ErrorTypeData, "values[%d] is null", i).WithDetail("row", i)
		}
		for j, cell := range row {
			if !isScalar(cell) {
				return nil, errors.Newf(errors.ErrorTypeData, "values[%d][%d] is not a scalar (%T)", i, j, cell).
					WithDetail("row", i).WithDetail("column", j)
			}
		}
	}

	return &Record{
		Range:          *w.Range,
		Values:         *w.Values,
		MajorDimension: *w.MajorDimension,
		SpreadsheetID:  *w.SpreadsheetID,
	}, nil
}

// Encode renders the record in its wire format.
func (r *Record) Encode() ([]byte, error) {
	data, err := gojson.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
	}
	return data, nil
}

// Rows returns the number of rows (or columns, for COLUMNS) in the record.
func (r *Record) Rows() int {
	return len(r.Values)
}

// String is a short description for logs; cell values are left out.
func (r *Record) String() string {
	return fmt.Sprintf("%s!%s (%d x %s)", r.SpreadsheetID, r.Range, len(r.Values), r.MajorDimension)
}

func missingField(name string) *errors.Error {
	return errors.Newf(errors.ErrorTypeData, "missing or null field %q", name).WithDetail("field", name)
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, gojson.Number:
		return true
	default:
		return false
	}
}
