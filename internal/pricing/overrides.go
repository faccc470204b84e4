package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Overrides carries optional decimal strings replacing FlatRate fields.
// Empty values keep the current rate.
type Overrides struct {
	RemoteHourly      string
	OnSiteHourly      string
	CorporateDiscount string
	GSTRate           string
}

// Apply parses o onto f. Hourly rates must be positive; discount and GST are
// fractions in [0, 1). f is left untouched when any value is invalid.
func (f *FlatRate) Apply(o Overrides) error {
	next := *f
	fields := []struct {
		name     string
		raw      string
		dst      *decimal.Decimal
		fraction bool
	}{
		{"remote hourly", o.RemoteHourly, &next.RemoteHourly, false},
		{"on-site hourly", o.OnSiteHourly, &next.OnSiteHourly, false},
		{"corporate discount", o.CorporateDiscount, &next.CorporateDiscount, true},
		{"gst rate", o.GSTRate, &next.GSTRate, true},
	}
	for _, fl := range fields {
		raw := strings.TrimSpace(fl.raw)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("pricing: %s %q: %w", fl.name, raw, err)
		}
		if fl.fraction {
			if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				return fmt.Errorf("pricing: %s %s must be in [0, 1)", fl.name, d)
			}
		} else if !d.IsPositive() {
			return fmt.Errorf("pricing: %s %s must be positive", fl.name, d)
		}
		*fl.dst = d
	}
	*f = next
	return nil
}
