package billing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestRecomputeTotals(t *testing.T) {
	b := &Billing{
		RegistrationFee: d("500"),
		ConsultationFee: d("300"),
	}
	b.RecomputeTotals()

	if !b.Subtotal.Equal(d("800")) {
		t.Errorf("subtotal = %s, want 800", b.Subtotal)
	}
	if !b.TotalAmount.Equal(d("800")) {
		t.Errorf("total = %s, want 800", b.TotalAmount)
	}
}

func TestRecomputeTotals_ServiceChargesDiscountTax(t *testing.T) {
	b := &Billing{
		RegistrationFee: d("100"),
		ConsultationFee: d("200"),
		ServiceCharges: []ServiceCharge{
			{Description: "CBC", Amount: d("150"), Quantity: 2},
			{Description: "X-Ray", Amount: d("400"), Quantity: 1},
		},
		Discount: d("50"),
		Tax:      d("30"),
	}
	b.RecomputeTotals()

	if !b.ServiceCharges[0].TotalAmount.Equal(d("300")) {
		t.Errorf("line 0 total = %s, want 300", b.ServiceCharges[0].TotalAmount)
	}
	if !b.Subtotal.Equal(d("1000")) {
		t.Errorf("subtotal = %s, want 1000", b.Subtotal)
	}
	// total = 1000 - 50 + 30
	if !b.TotalAmount.Equal(d("980")) {
		t.Errorf("total = %s, want 980", b.TotalAmount)
	}
}

func TestRecomputeTotals_Idempotent(t *testing.T) {
	b := &Billing{
		RegistrationFee: d("500"),
		ConsultationFee: d("300"),
		ServiceCharges:  []ServiceCharge{{Description: "ECG", Amount: d("250"), Quantity: 3}},
		Discount:        d("100"),
		Tax:             d("45"),
	}
	b.RecomputeTotals()
	first := b.TotalAmount
	firstSub := b.Subtotal

	b.RecomputeTotals()
	if !b.TotalAmount.Equal(first) || !b.Subtotal.Equal(firstSub) {
		t.Errorf("recompute changed totals: %s/%s then %s/%s", firstSub, first, b.Subtotal, b.TotalAmount)
	}
}

func TestClassifyPaymentStatus(t *testing.T) {
	tests := []struct {
		name   string
		paid   string
		total  string
		status string
		want   string
	}{
		{"nothing paid", "0", "800", StatusGenerated, PaymentPending},
		{"partial", "300", "800", StatusPartial, PaymentPartial},
		{"paid in full", "800", "800", StatusPaid, PaymentPaid},
		{"over total", "900", "800", StatusPaid, PaymentPaid},
		{"cancelled overrides", "300", "800", StatusCancelled, PaymentCancelled},
		{"refunded overrides", "800", "800", StatusRefunded, PaymentRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Billing{PaidAmount: d(tt.paid), TotalAmount: d(tt.total), Status: tt.status}
			if got := b.ClassifyPaymentStatus(); got != tt.want {
				t.Errorf("ClassifyPaymentStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRemainingAmount(t *testing.T) {
	b := &Billing{TotalAmount: d("800"), PaidAmount: d("300")}
	if !b.RemainingAmount().Equal(d("500")) {
		t.Errorf("remaining = %s, want 500", b.RemainingAmount())
	}
}

func TestCanEditFees(t *testing.T) {
	b := &Billing{Status: StatusDraft, PaidAmount: decimal.Zero, TotalAmount: d("100")}
	if !b.CanEditFees() {
		t.Error("draft unpaid bill should be editable")
	}

	b.PaidAmount = d("50")
	if b.CanEditFees() {
		t.Error("bill with payments should not be editable")
	}

	b = &Billing{Status: StatusCancelled, PaidAmount: decimal.Zero}
	if b.CanEditFees() {
		t.Error("cancelled bill should not be editable")
	}
}
