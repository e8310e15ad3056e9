package calibration

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"
)

// expectedHeader is the exact, case-sensitive calibration CSV header.
const expectedHeader = "raw,grams"

// LoadRows parses a calibration CSV with an exact "raw,grams" header (no
// whitespace variants) followed by at least two data rows, each an
// integer raw count paired with a finite grams value.
func LoadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2

	header, err := cr.Read()
	if err == io.EOF {
		return nil, newErr(InvalidHeader, "empty file, expected header %q", expectedHeader)
	}
	if err != nil {
		return nil, newErr(InvalidHeader, "reading header: %v", err)
	}
	if strings.Join(header, ",") != expectedHeader {
		return nil, newErr(InvalidHeader, "got %q, want %q", strings.Join(header, ","), expectedHeader)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newErr(InvalidHeader, "reading row %d: %v", len(rows)+1, err)
		}
		raw, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, newErr(InvalidHeader, "row %d: raw %q is not an integer", len(rows)+1, rec[0])
		}
		grams, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || math.IsNaN(grams) || math.IsInf(grams, 0) {
			return nil, newErr(InvalidHeader, "row %d: grams %q is not a finite number", len(rows)+1, rec[1])
		}
		rows = append(rows, Row{Raw: raw, Grams: grams})
	}

	if len(rows) < 2 {
		return nil, newErr(InsufficientRows, "need >= 2 data rows, got %d", len(rows))
	}
	return rows, nil
}
