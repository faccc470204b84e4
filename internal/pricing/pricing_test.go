package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// Monday 10:00 UTC.
var weekday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func price(t *testing.T, f *FlatRate, attrs BookingAttributes, d time.Duration, start time.Time, gst bool, role domain.MemberRole) decimal.Decimal {
	t.Helper()
	q, err := f.PriceByOneDay(context.Background(), attrs, d, start, gst, role)
	if err != nil {
		t.Fatalf("PriceByOneDay: %v", err)
	}
	return q.Price
}

func wantPrice(t *testing.T, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("price = %s, want %s", got, want)
	}
}

func TestFlatRate_RemoteHourly(t *testing.T) {
	f := DefaultFlatRate()
	attrs := BookingAttributes{SchedulingType: domain.SchedulingPreBooked, CommunicationType: domain.CommunicationVideo}
	got := price(t, f, attrs, 90*time.Minute, weekday, false, domain.RoleIndividualClient)
	wantPrice(t, got, decimal.NewFromInt(120))
}

func TestFlatRate_OnSiteMinimumAndGST(t *testing.T) {
	f := DefaultFlatRate()
	attrs := BookingAttributes{SchedulingType: domain.SchedulingPreBooked, CommunicationType: domain.CommunicationFaceToFace}
	got := price(t, f, attrs, 30*time.Minute, weekday, true, domain.RoleIndividualClient)
	// 2h minimum * 110 * 1.1
	wantPrice(t, got, decimal.RequireFromString("242"))
}

func TestFlatRate_OnDemandAndOvertime(t *testing.T) {
	f := DefaultFlatRate()
	attrs := BookingAttributes{
		SchedulingType:      domain.SchedulingOnDemand,
		CommunicationType:   domain.CommunicationAudio,
		AcceptOvertimeRates: true,
	}
	saturday := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	got := price(t, f, attrs, time.Hour, saturday, false, domain.RoleIndividualClient)
	// 80 * 1.25 * 1.5
	wantPrice(t, got, decimal.NewFromInt(150))

	attrs.AcceptOvertimeRates = false
	got = price(t, f, attrs, time.Hour, saturday, false, domain.RoleIndividualClient)
	wantPrice(t, got, decimal.NewFromInt(100))
}

func TestFlatRate_OvertimeUsesTimezone(t *testing.T) {
	f := DefaultFlatRate()
	attrs := BookingAttributes{
		SchedulingType:      domain.SchedulingPreBooked,
		CommunicationType:   domain.CommunicationVideo,
		AcceptOvertimeRates: true,
		Timezone:            "UTC",
	}
	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	got := price(t, f, attrs, time.Hour, evening, false, domain.RoleIndividualClient)
	wantPrice(t, got, decimal.NewFromInt(120))
}

func TestFlatRate_CorporateDiscount(t *testing.T) {
	f := DefaultFlatRate()
	f.CorporateDiscount = decimal.RequireFromString("0.1")
	attrs := BookingAttributes{SchedulingType: domain.SchedulingPreBooked, CommunicationType: domain.CommunicationVideo}
	got := price(t, f, attrs, time.Hour, weekday, false, domain.RoleCorporateClient)
	wantPrice(t, got, decimal.NewFromInt(72))
}

func TestAttributesOf(t *testing.T) {
	a := &domain.Appointment{
		SchedulingType:      domain.SchedulingOnDemand,
		CommunicationType:   domain.CommunicationAudio,
		InterpretingType:    domain.InterpretingConsecutive,
		AcceptOvertimeRates: true,
		Timezone:            "Australia/Sydney",
	}
	addr := &domain.Address{Suburb: "Parramatta"}
	attrs := AttributesOf(a, addr)
	if attrs.SchedulingType != domain.SchedulingOnDemand || attrs.Timezone != "Australia/Sydney" {
		t.Fatalf("attributes = %+v", attrs)
	}
	if attrs.Address != addr {
		t.Fatal("address not carried by pointer")
	}
}
