// Package pricing estimates the cost of one day of interpreting.
package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// BookingAttributes are the parts of a booking that influence its price.
type BookingAttributes struct {
	SchedulingType      domain.SchedulingType
	CommunicationType   domain.CommunicationType
	InterpretingType    domain.InterpretingType
	AcceptOvertimeRates bool
	Timezone            string
	Address             *domain.Address
}

// AttributesOf extracts the pricing attributes of an appointment.
func AttributesOf(a *domain.Appointment, addr *domain.Address) BookingAttributes {
	return BookingAttributes{
		SchedulingType:      a.SchedulingType,
		CommunicationType:   a.CommunicationType,
		InterpretingType:    a.InterpretingType,
		AcceptOvertimeRates: a.AcceptOvertimeRates,
		Timezone:            a.Timezone,
		Address:             addr,
	}
}

// Quote is a computed price.
type Quote struct {
	Price decimal.Decimal
}

// Calculator prices a single day of a booking.
type Calculator interface {
	PriceByOneDay(ctx context.Context, attrs BookingAttributes, duration time.Duration, start time.Time, isGstPayer bool, role domain.MemberRole) (Quote, error)
}

// FlatRate prices by the hour with fixed multipliers.
type FlatRate struct {
	RemoteHourly      decimal.Decimal
	OnSiteHourly      decimal.Decimal
	OnDemandFactor    decimal.Decimal
	OvertimeFactor    decimal.Decimal
	CorporateDiscount decimal.Decimal // fraction, e.g. 0.1
	GSTRate           decimal.Decimal // fraction, e.g. 0.1
	MinOnSite         time.Duration
	// Overtime covers starts before BusinessStart or at/after BusinessEnd
	// (hours, local time) and weekends.
	BusinessStart int
	BusinessEnd   int
}

// DefaultFlatRate returns the rates used when none are configured.
func DefaultFlatRate() *FlatRate {
	return &FlatRate{
		RemoteHourly:      decimal.NewFromInt(80),
		OnSiteHourly:      decimal.NewFromInt(110),
		OnDemandFactor:    decimal.RequireFromString("1.25"),
		OvertimeFactor:    decimal.RequireFromString("1.5"),
		CorporateDiscount: decimal.Zero,
		GSTRate:           decimal.RequireFromString("0.1"),
		MinOnSite:         2 * time.Hour,
		BusinessStart:     7,
		BusinessEnd:       19,
	}
}

// PriceByOneDay implements Calculator.
func (f *FlatRate) PriceByOneDay(_ context.Context, attrs BookingAttributes, duration time.Duration, start time.Time, isGstPayer bool, role domain.MemberRole) (Quote, error) {
	rate := f.RemoteHourly
	if attrs.CommunicationType == domain.CommunicationFaceToFace {
		rate = f.OnSiteHourly
		if duration < f.MinOnSite {
			duration = f.MinOnSite
		}
	}

	hours := decimal.NewFromFloat(duration.Hours())
	price := rate.Mul(hours)

	if attrs.SchedulingType == domain.SchedulingOnDemand && f.OnDemandFactor.IsPositive() {
		price = price.Mul(f.OnDemandFactor)
	}
	if attrs.AcceptOvertimeRates && f.isOvertime(start, attrs.Timezone) && f.OvertimeFactor.IsPositive() {
		price = price.Mul(f.OvertimeFactor)
	}
	if role == domain.RoleCorporateClient && f.CorporateDiscount.IsPositive() {
		price = price.Mul(decimal.NewFromInt(1).Sub(f.CorporateDiscount))
	}
	if isGstPayer && f.GSTRate.IsPositive() {
		price = price.Mul(decimal.NewFromInt(1).Add(f.GSTRate))
	}
	return Quote{Price: price.Round(2)}, nil
}

func (f *FlatRate) isOvertime(start time.Time, tz string) bool {
	local := start
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			local = start.In(loc)
		}
	}
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	h := local.Hour()
	return h < f.BusinessStart || h >= f.BusinessEnd
}
