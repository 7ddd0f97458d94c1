package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/numbering"
)

// Directory resolves patient and staff references for billing validation.
type Directory interface {
	FindPatientByID(ctx context.Context, id uuid.UUID) (*DirectoryPatient, error)
	FindDoctorByID(ctx context.Context, id uuid.UUID) (*DirectoryStaff, error)
}

// DirectoryPatient is the slice of the patient record billing needs.
type DirectoryPatient struct {
	ID       uuid.UUID
	Name     string
	CenterID uuid.UUID
}

// DirectoryStaff is the slice of the staff record billing needs.
type DirectoryStaff struct {
	ID   uuid.UUID
	Name string
	Role string
}

// LabOrderUpdater pushes billing state changes into the linked test request.
// The concrete adapter is wired in main to avoid a package cycle.
type LabOrderUpdater interface {
	// AttachBilling links the bill and moves the request to Billing_Generated.
	AttachBilling(ctx context.Context, testRequestID, billingID uuid.UUID) error
	// MarkBillingPaid moves a Billing_Generated request to Billing_Paid.
	MarkBillingPaid(ctx context.Context, testRequestID uuid.UUID) error
}

// Transactor runs a function inside a storage transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const maxReceiptAttempts = 5

type Service struct {
	repo        Repository
	directory   Directory
	billNumbers numbering.BillNumbers
	receipts    *numbering.ReceiptNumbers
	labOrders   LabOrderUpdater
	tx          Transactor
	now         func() time.Time

	previewHours int
}

func NewService(repo Repository, dir Directory, bills numbering.BillNumbers, receipts *numbering.ReceiptNumbers, tx Transactor) *Service {
	return &Service{
		repo:         repo,
		directory:    dir,
		billNumbers:  bills,
		receipts:     receipts,
		tx:           tx,
		now:          time.Now,
		previewHours: 72,
	}
}

// SetLabOrderUpdater attaches the cross-domain updater (wired in main).
func (s *Service) SetLabOrderUpdater(u LabOrderUpdater) { s.labOrders = u }

// SetPreviewExpiryHours overrides the default preview invoice lifetime.
func (s *Service) SetPreviewExpiryHours(hours int) {
	if hours > 0 {
		s.previewHours = hours
	}
}

// CreateBillingInput is the validated input for a new bill.
type CreateBillingInput struct {
	Kind            Kind
	PatientID       uuid.UUID
	DoctorID        *uuid.UUID
	CenterID        uuid.UUID
	TestRequestID   *uuid.UUID
	RegistrationFee FeeInput
	ConsultationFee FeeInput
	ServiceCharges  []ServiceCharge
	Discount        decimal.Decimal
	Tax             decimal.Decimal
}

// CreateBilling validates references, composes fees, assigns a bill number,
// and writes the aggregate plus its first stage-log entry in one transaction.
// A service bill created from a test request also links the request and moves
// it to Billing_Generated.
func (s *Service) CreateBilling(ctx context.Context, caller auth.Caller, in CreateBillingInput) (*Billing, error) {
	if !validKinds[in.Kind] {
		return nil, apperror.New(apperror.KindValidation, "invalid billing kind: %s", in.Kind)
	}
	if in.Discount.IsNegative() || in.Tax.IsNegative() {
		return nil, apperror.New(apperror.KindValidation, "discount and tax must not be negative")
	}
	if in.RegistrationFee.Amount.IsNegative() || in.ConsultationFee.Amount.IsNegative() {
		return nil, apperror.New(apperror.KindValidation, "fees must not be negative")
	}
	for _, sc := range in.ServiceCharges {
		if sc.Amount.IsNegative() || sc.Quantity <= 0 {
			return nil, apperror.New(apperror.KindValidation, "service charge %q needs a non-negative amount and positive quantity", sc.Description)
		}
	}

	patient, err := s.directory.FindPatientByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if in.DoctorID != nil {
		if _, err := s.directory.FindDoctorByID(ctx, *in.DoctorID); err != nil {
			return nil, err
		}
	}

	centerID := in.CenterID
	if scope := caller.ScopeCenter(); scope != uuid.Nil {
		centerID = scope
	}
	if centerID == uuid.Nil {
		centerID = patient.CenterID
	}

	regType := in.RegistrationFee.PatientType
	if regType == "" {
		regType = PatientTypeOP
	}

	billNumber, err := s.billNumbers.Next(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "allocate bill number")
	}

	b := &Billing{
		BillNumber:       billNumber,
		Kind:             in.Kind,
		PatientID:        in.PatientID,
		DoctorID:         in.DoctorID,
		CenterID:         centerID,
		TestRequestID:    in.TestRequestID,
		RegistrationFee:  in.RegistrationFee.Amount,
		RegistrationType: regType,
		ConsultationFee:  in.ConsultationFee.Amount,
		ServiceCharges:   in.ServiceCharges,
		Discount:         in.Discount,
		Tax:              in.Tax,
		PaidAmount:       decimal.Zero,
		Status:           StatusDraft,
		Stage:            StageBilling,
		CreatedBy:        caller.UserID,
		UpdatedBy:        caller.UserID,
		IsActive:         true,
	}
	b.RecomputeTotals()
	b.PaymentStatus = b.ClassifyPaymentStatus()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, b); err != nil {
			return err
		}
		if err := s.repo.AppendStageLog(ctx, &StageLogEntry{
			BillingID: b.ID, Stage: StageBilling, Note: "billing created", ChangedBy: caller.UserID,
		}); err != nil {
			return err
		}
		if in.TestRequestID != nil && s.labOrders != nil {
			return s.labOrders.AttachBilling(ctx, *in.TestRequestID, b.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBilling loads a bill, enforcing the caller's center scope.
func (s *Service) GetBilling(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Billing, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("billing", id, false)
		}
		return nil, err
	}
	if !b.IsActive {
		return nil, apperror.NotFound("billing", id, true)
	}
	if scope := caller.ScopeCenter(); scope != uuid.Nil && b.CenterID != scope {
		return nil, apperror.New(apperror.KindForbidden, "billing belongs to another center")
	}
	return b, nil
}

func (s *Service) ListBillings(ctx context.Context, caller auth.Caller, f ListFilter, limit, offset int) ([]*Billing, int, error) {
	if scope := caller.ScopeCenter(); scope != uuid.Nil {
		f.CenterID = scope
	}
	return s.repo.List(ctx, f, limit, offset)
}

// FeeUpdateInput carries revised fee fields for a draft bill.
type FeeUpdateInput struct {
	RegistrationFee FeeInput
	ConsultationFee FeeInput
	ServiceCharges  []ServiceCharge
	Discount        decimal.Decimal
	Tax             decimal.Decimal
}

// UpdateFees replaces the fee composition and recomputes totals. Refused once
// any payment has been taken or the bill is settled.
func (s *Service) UpdateFees(ctx context.Context, caller auth.Caller, id uuid.UUID, in FeeUpdateInput) (*Billing, error) {
	if in.RegistrationFee.Amount.IsNegative() || in.ConsultationFee.Amount.IsNegative() ||
		in.Discount.IsNegative() || in.Tax.IsNegative() {
		return nil, apperror.New(apperror.KindValidation, "fee fields must not be negative")
	}

	b, err := s.GetBilling(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !b.CanEditFees() {
		return nil, apperror.New(apperror.KindInvalidState, "fees cannot change once the bill is %s with payments recorded", b.Status)
	}

	b.RegistrationFee = in.RegistrationFee.Amount
	if in.RegistrationFee.PatientType != "" {
		b.RegistrationType = in.RegistrationFee.PatientType
	}
	b.ConsultationFee = in.ConsultationFee.Amount
	b.ServiceCharges = in.ServiceCharges
	b.Discount = in.Discount
	b.Tax = in.Tax
	b.RecomputeTotals()
	b.PaymentStatus = b.ClassifyPaymentStatus()
	b.UpdatedBy = caller.UserID

	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GeneratePreviewInvoice promotes a draft bill to a time-boxed preview.
// A non-positive expiresInHours falls back to the configured default.
func (s *Service) GeneratePreviewInvoice(ctx context.Context, caller auth.Caller, id uuid.UUID, expiresInHours int) (*Billing, error) {
	if expiresInHours <= 0 {
		expiresInHours = s.previewHours
	}
	b, err := s.GetBilling(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDraft {
		return nil, apperror.New(apperror.KindInvalidState, "preview can only be generated from draft, current status is %s", b.Status)
	}

	now := s.now()
	b.Preview = &PreviewInvoice{
		GeneratedAt: now,
		ExpiresAt:   now.Add(time.Duration(expiresInHours) * time.Hour),
	}
	b.Status = StatusPreview
	b.Stage = StagePreview
	b.UpdatedBy = caller.UserID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		return s.repo.AppendStageLog(ctx, &StageLogEntry{
			BillingID: b.ID, Stage: StagePreview, Note: "preview invoice generated", ChangedBy: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ApprovePreviewInvoice finalizes a preview bill. Approval past the expiry
// fails and leaves the bill untouched.
func (s *Service) ApprovePreviewInvoice(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Billing, error) {
	b, err := s.GetBilling(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPreview || b.Preview == nil {
		return nil, apperror.New(apperror.KindInvalidState, "no preview invoice to approve, current status is %s", b.Status)
	}
	now := s.now()
	if !now.Before(b.Preview.ExpiresAt) {
		return nil, apperror.New(apperror.KindExpired, "preview invoice expired at %s", b.Preview.ExpiresAt.Format(time.RFC3339))
	}

	b.Preview.IsApproved = true
	b.Preview.ApprovedAt = &now
	b.Status = StatusGenerated
	b.Stage = StagePayment
	b.UpdatedBy = caller.UserID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		return s.repo.AppendStageLog(ctx, &StageLogEntry{
			BillingID: b.ID, Stage: StagePayment, Note: "preview approved", ChangedBy: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ProcessPayment applies a payment to a bill. The whole operation runs in one
// transaction with the billing row locked, so concurrent submissions against
// the same bill serialize and the overpayment check always sees the latest
// paid amount.
func (s *Service) ProcessPayment(ctx context.Context, caller auth.Caller, id uuid.UUID, amount decimal.Decimal, method, note string) (*Billing, *PaymentEntry, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, nil, apperror.New(apperror.KindValidation, "payment amount must be positive")
	}
	if method == "" {
		return nil, nil, apperror.New(apperror.KindValidation, "payment method is required")
	}
	if len(note) > MaxNoteLength {
		return nil, nil, apperror.New(apperror.KindValidation, "note exceeds %d characters", MaxNoteLength)
	}

	var (
		b     *Billing
		entry *PaymentEntry
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.lockBilling(ctx, caller, id)
		if err != nil {
			return err
		}
		if b.Status == StatusCancelled || b.Status == StatusRefunded {
			return apperror.New(apperror.KindInvalidState, "cannot take payment on a %s bill", b.Status)
		}
		if b.PaidAmount.Add(amount).Cmp(b.TotalAmount) > 0 {
			return apperror.New(apperror.KindOverpayment,
				"payment of %s would exceed total %s (already paid %s)",
				amount.String(), b.TotalAmount.String(), b.PaidAmount.String())
		}

		receipt, err := s.nextReceiptNumber(ctx)
		if err != nil {
			return err
		}

		b.PaidAmount = b.PaidAmount.Add(amount)
		b.PaymentStatus = b.ClassifyPaymentStatus()
		stageChanged := false
		if b.FullyPaid() {
			b.Status = StatusPaid
			if b.Stage != StageConsultation {
				b.Stage = StageConsultation
				stageChanged = true
			}
		} else {
			b.Status = StatusPartial
			if b.Stage != StagePayment {
				b.Stage = StagePayment
				stageChanged = true
			}
		}
		b.UpdatedBy = caller.UserID

		entry = &PaymentEntry{
			BillingID:     b.ID,
			Amount:        amount,
			Method:        method,
			ReceiptNumber: receipt,
			Note:          note,
			ActorID:       caller.UserID,
		}
		if err := s.repo.AppendPayment(ctx, entry); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		if stageChanged {
			if err := s.repo.AppendStageLog(ctx, &StageLogEntry{
				BillingID: b.ID, Stage: b.Stage, Note: "payment " + receipt, ChangedBy: caller.UserID,
			}); err != nil {
				return err
			}
		}
		if b.FullyPaid() && b.TestRequestID != nil && s.labOrders != nil {
			return s.labOrders.MarkBillingPaid(ctx, *b.TestRequestID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return b, entry, nil
}

// AdjustmentType selects how an adjustment changes the paid amount.
type AdjustmentType string

const (
	AdjustIncrease AdjustmentType = "increase"
	AdjustDecrease AdjustmentType = "decrease"
	AdjustCorrect  AdjustmentType = "correct"
)

// AdjustmentResult returns both sides of an adjustment for audit display.
type AdjustmentResult struct {
	Before Billing       `json:"before"`
	After  Billing       `json:"after"`
	Entry  *PaymentEntry `json:"entry"`
}

// AdjustPayment corrects the paid amount outside the normal payment flow,
// still appending an audit entry tagged method=adjustment. It returns the
// state before and after the change.
func (s *Service) AdjustPayment(ctx context.Context, caller auth.Caller, id uuid.UUID, adjType AdjustmentType, amount decimal.Decimal, reason string) (*AdjustmentResult, error) {
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, "adjustment reason is required")
	}

	var result *AdjustmentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBilling(ctx, caller, id)
		if err != nil {
			return err
		}
		if b.Status == StatusCancelled || b.Status == StatusRefunded {
			return apperror.New(apperror.KindInvalidState, "cannot adjust a %s bill", b.Status)
		}

		before := *b

		var newPaid decimal.Decimal
		switch adjType {
		case AdjustIncrease:
			if amount.Cmp(decimal.Zero) <= 0 {
				return apperror.New(apperror.KindValidation, "increase amount must be positive")
			}
			newPaid = b.PaidAmount.Add(amount)
		case AdjustDecrease:
			if amount.Cmp(decimal.Zero) <= 0 {
				return apperror.New(apperror.KindValidation, "decrease amount must be positive")
			}
			newPaid = b.PaidAmount.Sub(amount)
		case AdjustCorrect:
			newPaid = amount
		default:
			return apperror.New(apperror.KindValidation, "invalid adjustment type: %s", adjType)
		}

		if newPaid.IsNegative() {
			return apperror.New(apperror.KindValidation, "adjustment would make paid amount negative")
		}
		if newPaid.Cmp(b.TotalAmount) > 0 {
			return apperror.New(apperror.KindValidation, "adjustment would exceed total amount %s", b.TotalAmount.String())
		}

		delta := newPaid.Sub(b.PaidAmount).Abs()
		receipt, err := s.nextReceiptNumber(ctx)
		if err != nil {
			return err
		}

		b.PaidAmount = newPaid
		b.PaymentStatus = b.ClassifyPaymentStatus()
		switch {
		case b.FullyPaid():
			b.Status = StatusPaid
			b.Stage = StageConsultation
		case b.PaidAmount.Cmp(decimal.Zero) > 0:
			b.Status = StatusPartial
			b.Stage = StagePayment
		default:
			b.Status = StatusGenerated
			b.Stage = StagePayment
		}
		b.UpdatedBy = caller.UserID

		entry := &PaymentEntry{
			BillingID:     b.ID,
			Amount:        delta,
			Method:        MethodAdjustment,
			ReceiptNumber: receipt,
			Note:          string(adjType) + ": " + reason,
			ActorID:       caller.UserID,
		}
		if err := s.repo.AppendPayment(ctx, entry); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		result = &AdjustmentResult{Before: before, After: *b, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelBilling cancels a bill, optionally noting an amount to hand back.
func (s *Service) CancelBilling(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string, refundAmount decimal.Decimal) (*Billing, error) {
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, "cancellation reason is required")
	}
	if refundAmount.IsNegative() {
		return nil, apperror.New(apperror.KindValidation, "refund amount must not be negative")
	}

	var b *Billing
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.lockBilling(ctx, caller, id)
		if err != nil {
			return err
		}
		if b.Status == StatusCancelled || b.Status == StatusRefunded {
			return apperror.New(apperror.KindInvalidState, "bill is already %s", b.Status)
		}
		if refundAmount.Cmp(b.PaidAmount) > 0 {
			return apperror.New(apperror.KindValidation, "refund amount %s exceeds paid amount %s", refundAmount.String(), b.PaidAmount.String())
		}

		b.Status = StatusCancelled
		b.PaymentStatus = PaymentCancelled
		b.Stage = StageCancelled
		b.Cancellation = &Cancellation{
			Reason:       reason,
			RefundAmount: refundAmount,
			CancelledBy:  caller.UserID,
			CancelledAt:  s.now(),
		}
		b.UpdatedBy = caller.UserID

		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		return s.repo.AppendStageLog(ctx, &StageLogEntry{
			BillingID: b.ID, Stage: StageCancelled, Note: reason, ChangedBy: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ProcessRefund refunds money against a bill with payments on record.
func (s *Service) ProcessRefund(ctx context.Context, caller auth.Caller, id uuid.UUID, amount decimal.Decimal, method, reason, reference string) (*Billing, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, apperror.New(apperror.KindValidation, "refund amount must be positive")
	}
	if method == "" {
		return nil, apperror.New(apperror.KindValidation, "refund method is required")
	}

	var b *Billing
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.lockBilling(ctx, caller, id)
		if err != nil {
			return err
		}
		if b.Status == StatusRefunded {
			return apperror.New(apperror.KindInvalidState, "bill is already refunded")
		}
		if b.PaidAmount.Cmp(decimal.Zero) <= 0 {
			return apperror.New(apperror.KindInvalidState, "nothing to refund, no payments recorded")
		}
		if amount.Cmp(b.PaidAmount) > 0 {
			return apperror.New(apperror.KindValidation, "refund amount %s exceeds paid amount %s", amount.String(), b.PaidAmount.String())
		}

		b.Status = StatusRefunded
		b.PaymentStatus = PaymentRefunded
		b.Stage = StageRefunded
		b.Refund = &Refund{
			Amount:     amount,
			Method:     method,
			Reason:     reason,
			Reference:  reference,
			RefundedBy: caller.UserID,
			RefundedAt: s.now(),
		}
		b.UpdatedBy = caller.UserID

		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		return s.repo.AppendStageLog(ctx, &StageLogEntry{
			BillingID: b.ID, Stage: StageRefunded, Note: reason, ChangedBy: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SoftDelete deactivates a bill. Bills with recorded payments are kept.
func (s *Service) SoftDelete(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	b, err := s.GetBilling(ctx, caller, id)
	if err != nil {
		return err
	}
	if b.PaidAmount.Cmp(decimal.Zero) > 0 {
		return apperror.New(apperror.KindInvalidState, "bills with payments cannot be deleted")
	}
	b.IsActive = false
	b.UpdatedBy = caller.UserID
	return s.repo.Update(ctx, b)
}

func (s *Service) ListPayments(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]*PaymentEntry, error) {
	if _, err := s.GetBilling(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, id)
}

func (s *Service) ListStageLog(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]*StageLogEntry, error) {
	if _, err := s.GetBilling(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.ListStageLog(ctx, id)
}

// Stats returns per-status bill counts within the caller's center scope.
func (s *Service) Stats(ctx context.Context, caller auth.Caller) (map[string]int, error) {
	return s.repo.CountByStatus(ctx, caller.ScopeCenter())
}

// PaidAmountOf exposes the paid amount to the billing gate without handing
// out the whole aggregate.
func (s *Service) PaidAmountOf(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, apperror.NotFound("billing", id, false)
		}
		return decimal.Zero, err
	}
	return b.PaidAmount, nil
}

func (s *Service) lockBilling(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Billing, error) {
	b, err := s.repo.GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("billing", id, false)
		}
		return nil, err
	}
	if !b.IsActive {
		return nil, apperror.NotFound("billing", id, true)
	}
	if scope := caller.ScopeCenter(); scope != uuid.Nil && b.CenterID != scope {
		return nil, apperror.New(apperror.KindForbidden, "billing belongs to another center")
	}
	return b, nil
}

// nextReceiptNumber generates a receipt number, retrying on collision a
// bounded number of times before giving up with a conflict.
func (s *Service) nextReceiptNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		receipt := s.receipts.Generate()
		exists, err := s.repo.ReceiptNumberExists(ctx, receipt)
		if err != nil {
			return "", err
		}
		if !exists {
			return receipt, nil
		}
	}
	return "", apperror.New(apperror.KindConflict, "could not allocate a unique receipt number after %d attempts", maxReceiptAttempts)
}
