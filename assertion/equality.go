package assertion

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shibukawa/sqlconvention/query"
)

var (
	dateLayouts = []string{time.DateOnly, "2006/01/02", time.RFC3339}

	timestampLayouts = []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.DateOnly,
	}
)

// cellEquals compares an expected text cell with an actual driver value.
func cellEquals(expected string, actual any, typ ColumnType, nullMarker string) bool {
	if nullMarker != "" && expected == nullMarker {
		return actual == nil
	}

	if actual == nil {
		return false
	}

	switch {
	case typ.numeric():
		return numericEquals(expected, actual)
	case typ == TypeBoolean:
		return booleanEquals(expected, actual)
	case typ == TypeDate:
		return temporalEquals(expected, actual, dateLayouts, true)
	case typ == TypeTimestamp:
		return temporalEquals(expected, actual, timestampLayouts, false)
	case typ == TypeChar:
		return strings.TrimRight(expected, " ") == strings.TrimRight(query.FormatValue(actual), " ")
	case typ == TypeAuto:
		if _, ok := toDecimal(actual); ok {
			if _, isString := actual.(string); !isString {
				return numericEquals(expected, actual)
			}
		}

		if _, ok := actual.(bool); ok {
			return booleanEquals(expected, actual)
		}

		if _, ok := actual.(time.Time); ok {
			return temporalEquals(expected, actual, timestampLayouts, false)
		}
	}

	return expected == query.FormatValue(actual)
}

func numericEquals(expected string, actual any) bool {
	want, err := decimal.NewFromString(strings.TrimSpace(expected))
	if err != nil {
		return false
	}

	got, ok := toDecimal(actual)
	if !ok {
		return false
	}

	return want.Equal(got)
}

// toDecimal normalizes every numeric driver value, and numeric text, to a decimal.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(n)))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func parseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "y", "yes":
		return true, true
	case "f", "false", "0", "n", "no":
		return false, true
	default:
		return false, false
	}
}

func booleanEquals(expected string, actual any) bool {
	want, ok := parseBool(expected)
	if !ok {
		return false
	}

	var got bool

	switch v := actual.(type) {
	case bool:
		got = v
	case string:
		if got, ok = parseBool(v); !ok {
			return false
		}
	default:
		d, isNumber := toDecimal(v)
		if !isNumber {
			return false
		}

		got = !d.IsZero()
	}

	return want == got
}

func temporalEquals(expected string, actual any, layouts []string, dateOnly bool) bool {
	want, ok := parseTime(expected, layouts)
	if !ok {
		return false
	}

	var got time.Time

	switch v := actual.(type) {
	case time.Time:
		got = v
	case string:
		if got, ok = parseTime(v, timestampLayouts); !ok {
			return false
		}
	case []byte:
		if got, ok = parseTime(string(v), timestampLayouts); !ok {
			return false
		}
	default:
		return false
	}

	if dateOnly {
		return want.Format(time.DateOnly) == got.Format(time.DateOnly)
	}

	// values without a zone are read as UTC on both sides
	return want.Equal(got) || want.Format("2006-01-02 15:04:05.999999999") == got.Format("2006-01-02 15:04:05.999999999")
}

func parseTime(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
