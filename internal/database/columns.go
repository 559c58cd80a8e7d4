package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage format of calendar dates
const DateLayout = "2006-01-02"

// FormatDate formats a calendar date for storage
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a stored calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseDecimal parses a stored decimal column
func ParseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d, nil
}

// ParseNullDecimal parses a nullable decimal column
func ParseNullDecimal(column string, ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := ParseDecimal(column, ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// NullDecimal converts an optional decimal to a nullable column value
func NullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// InClause builds "column IN (?, ?, ...)" and its arguments. ok is false
// when ids is empty and non-nil, meaning the query matches nothing; a nil
// slice yields "1 = 1".
func InClause(column string, ids []int64) (clause string, args []interface{}, ok bool) {
	if ids == nil {
		return "1 = 1", nil, true
	}
	if len(ids) == 0 {
		return "", nil, false
	}
	args = make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")), args, true
}
