// Package billing owns the billing aggregate: fee composition, totals,
// payment history, and the billing workflow stages. Payments, adjustments,
// cancellations, and refunds all flow through the Service in service.go.
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind discriminates the three billing flavours the clinic runs. They share
// one aggregate and one set of payment operations.
type Kind string

const (
	KindService      Kind = "service"      // lab/service bill attached to a test request
	KindConsultation Kind = "consultation" // comprehensive consultation bill
	KindInstant      Kind = "instant"      // receptionist walk-in bill
)

var validKinds = map[Kind]bool{
	KindService: true, KindConsultation: true, KindInstant: true,
}

// Billing status values.
const (
	StatusDraft     = "draft"
	StatusPreview   = "preview"
	StatusGenerated = "generated"
	StatusSent      = "sent"
	StatusPaid      = "paid"
	StatusPartial   = "partial"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Payment status values, a pure function of paid vs total except when a
// cancellation or refund overrides it.
const (
	PaymentPending   = "pending"
	PaymentPartial   = "partial"
	PaymentPaid      = "paid"
	PaymentCancelled = "cancelled"
	PaymentRefunded  = "refunded"
)

// Workflow stages, the coarse progress grouping shown alongside the linked
// test request.
const (
	StageBilling      = "billing"
	StagePreview      = "preview"
	StagePayment      = "payment"
	StageConsultation = "consultation"
	StageCompleted    = "completed"
	StageCancelled    = "cancelled"
	StageRefunded     = "refunded"
)

// Patient type for the registration fee.
const (
	PatientTypeOP = "OP"
	PatientTypeIP = "IP"
)

// ServiceCharge is one fee line: unit amount times quantity.
type ServiceCharge struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// FeeInput is the structured form of a registration or consultation fee.
// The handler layer converts bare-number payloads into this shape.
type FeeInput struct {
	Amount      decimal.Decimal `json:"amount"`
	PatientType string          `json:"patient_type,omitempty"`
	Description string          `json:"description,omitempty"`
}

// PreviewInvoice is the time-boxed unapproved snapshot shown to a patient
// before the bill is finalized.
type PreviewInvoice struct {
	GeneratedAt time.Time  `json:"generated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsApproved  bool       `json:"is_approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// Cancellation records why and by whom a bill was cancelled.
type Cancellation struct {
	Reason       string          `json:"reason"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	CancelledBy  uuid.UUID       `json:"cancelled_by"`
	CancelledAt  time.Time       `json:"cancelled_at"`
}

// Refund records a processed refund.
type Refund struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reason     string          `json:"reason"`
	Reference  string          `json:"reference,omitempty"`
	RefundedBy uuid.UUID       `json:"refunded_by"`
	RefundedAt time.Time       `json:"refunded_at"`
}

// PaymentEntry is one immutable row of the payment history. Corrections are
// new entries with Method "adjustment", never edits.
type PaymentEntry struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	BillingID     uuid.UUID       `db:"billing_id" json:"billing_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	ReceiptNumber string          `db:"receipt_number" json:"receipt_number"`
	Note          string          `db:"note" json:"note,omitempty"`
	ActorID       uuid.UUID       `db:"actor_id" json:"actor_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// MethodAdjustment tags audit entries written by payment adjustments.
const MethodAdjustment = "adjustment"

// MaxNoteLength caps free-text notes on payment entries.
const MaxNoteLength = 500

// StageLogEntry is one append-only row of the workflow stage log.
type StageLogEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BillingID uuid.UUID `db:"billing_id" json:"billing_id"`
	Stage     string    `db:"stage" json:"stage"`
	Note      string    `db:"note" json:"note,omitempty"`
	ChangedBy uuid.UUID `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// Billing is the aggregate: one bill for one patient encounter.
type Billing struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	BillNumber    string     `db:"bill_number" json:"bill_number"`
	Kind          Kind       `db:"kind" json:"kind"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID      *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	CenterID      uuid.UUID  `db:"center_id" json:"center_id"`
	TestRequestID *uuid.UUID `db:"test_request_id" json:"test_request_id,omitempty"`

	RegistrationFee  decimal.Decimal `db:"registration_fee" json:"registration_fee"`
	RegistrationType string          `db:"registration_type" json:"registration_type"`
	ConsultationFee  decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	ServiceCharges   []ServiceCharge `db:"service_charges" json:"service_charges"`
	Discount         decimal.Decimal `db:"discount" json:"discount"`
	Tax              decimal.Decimal `db:"tax" json:"tax"`

	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount  decimal.Decimal `db:"paid_amount" json:"paid_amount"`

	PaymentStatus string `db:"payment_status" json:"payment_status"`
	Status        string `db:"status" json:"status"`
	Stage         string `db:"stage" json:"stage"`

	Preview      *PreviewInvoice `db:"preview" json:"preview,omitempty"`
	Cancellation *Cancellation   `db:"cancellation" json:"cancellation,omitempty"`
	Refund       *Refund         `db:"refund" json:"refund,omitempty"`

	CreatedBy uuid.UUID `db:"created_by" json:"created_by"`
	UpdatedBy uuid.UUID `db:"updated_by" json:"updated_by"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RecomputeTotals derives subtotal and total from the fee fields. It is a
// pure function of those fields and safe to run any number of times:
//
//	subtotal = registrationFee + consultationFee + Σ(line amount × quantity)
//	total    = subtotal - discount + tax
func (b *Billing) RecomputeTotals() {
	subtotal := b.RegistrationFee.Add(b.ConsultationFee)
	for i := range b.ServiceCharges {
		line := &b.ServiceCharges[i]
		line.TotalAmount = line.Amount.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(line.TotalAmount)
	}
	b.Subtotal = subtotal
	b.TotalAmount = subtotal.Sub(b.Discount).Add(b.Tax)
}

// RemainingAmount is the derived outstanding balance.
func (b *Billing) RemainingAmount() decimal.Decimal {
	return b.TotalAmount.Sub(b.PaidAmount)
}

// FullyPaid reports whether the bill is settled in full.
func (b *Billing) FullyPaid() bool {
	return b.PaidAmount.Cmp(b.TotalAmount) >= 0
}

// ClassifyPaymentStatus derives the payment status from paid vs total.
// Cancelled and refunded bills keep their overriding status.
func (b *Billing) ClassifyPaymentStatus() string {
	switch b.Status {
	case StatusCancelled:
		return PaymentCancelled
	case StatusRefunded:
		return PaymentRefunded
	}
	switch {
	case b.PaidAmount.Cmp(decimal.Zero) <= 0:
		return PaymentPending
	case b.PaidAmount.Cmp(b.TotalAmount) < 0:
		return PaymentPartial
	default:
		return PaymentPaid
	}
}

// Settled reports whether the bill has reached a status that freezes general
// edits. Only cancellation and refund operations may move it further.
func (b *Billing) Settled() bool {
	switch b.Status {
	case StatusPaid, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanEditFees reports whether fee inputs may still be changed.
func (b *Billing) CanEditFees() bool {
	return !b.Settled() && b.PaidAmount.Cmp(decimal.Zero) <= 0
}
