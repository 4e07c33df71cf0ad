package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ImportResult reports the outcome of one CSV row.
type ImportResult struct {
	Line    int
	Student *Student
	Err     error
}

// ImportStudents creates one student per "name,email" row of r. A header row
// whose second column is "email" is skipped. report is called for every row;
// rows that fail do not stop the import.
func ImportStudents(ctx context.Context, svc *StudentService, r io.Reader, report func(ImportResult)) (ok, failed int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ok, failed, nil
		}
		if err != nil {
			return ok, failed, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if line == 1 && len(record) >= 2 && strings.EqualFold(strings.TrimSpace(record[1]), "email") {
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if ctx.Err() != nil {
			return ok, failed, ctx.Err()
		}

		res := ImportResult{Line: line}
		if len(record) < 2 {
			res.Err = fmt.Errorf("%w: expected name,email", ErrValidation)
		} else {
			s := Student{Name: strings.TrimSpace(record[0]), Email: strings.TrimSpace(record[1])}
			if res.Err = Validate(s); res.Err == nil {
				res.Student, res.Err = svc.Create(ctx, s)
			}
		}

		if res.Err != nil {
			failed++
		} else {
			ok++
		}
		if report != nil {
			report(res)
		}
		// A rejected session will reject every remaining row too.
		if errors.Is(res.Err, ErrUnauthorized) {
			return ok, failed, res.Err
		}
	}
}
