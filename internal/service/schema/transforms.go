package schema

import (
	"strings"

	"github.com/spf13/cast"

	"fleet-reports/internal/domain"
)

var transforms = map[string]domain.ValueTransform{
	"upper": func(v interface{}) interface{} {
		if v == nil {
			return nil
		}
		return strings.ToUpper(cast.ToString(v))
	},
	"lower": func(v interface{}) interface{} {
		if v == nil {
			return nil
		}
		return strings.ToLower(cast.ToString(v))
	},
	"trim": func(v interface{}) interface{} {
		if v == nil {
			return nil
		}
		return strings.TrimSpace(cast.ToString(v))
	},
	// Monetary amounts are stored as integer cents.
	"cents_to_units": func(v interface{}) interface{} {
		if v == nil {
			return nil
		}
		cents, err := cast.ToFloat64E(v)
		if err != nil {
			return v
		}
		return cents / 100
	},
	// Keeps the last four characters, e.g. for VINs and licence numbers.
	"mask": func(v interface{}) interface{} {
		if v == nil {
			return nil
		}
		s := cast.ToString(v)
		if len(s) <= 4 {
			return strings.Repeat("*", len(s))
		}
		return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
	},
}

// LookupTransform returns the named value transform.
func LookupTransform(name string) (domain.ValueTransform, bool) {
	fn, ok := transforms[name]
	return fn, ok
}
