package labrequest

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
)

// BillingReader is the narrow view of the billing service the gate needs.
// The concrete adapter is wired in main.
type BillingReader interface {
	PaidAmountOf(ctx context.Context, billingID uuid.UUID) (decimal.Decimal, error)
}

// gateAllowed lists the statuses in which lab operations may proceed at all.
// Anything earlier in the workflow means the front desk has not billed yet.
var gateAllowed = map[Status]bool{
	StatusBillingGenerated:            true,
	StatusBillingPaid:                 true,
	StatusSuperadminApproved:          true,
	StatusAssigned:                    true,
	StatusSampleCollectionScheduled:   true,
	StatusSampleCollectionDelayed:     true,
	StatusSampleCollectionRescheduled: true,
	StatusSampleCollected:             true,
	StatusSampleCollectionFailed:      true,
	StatusInLabTesting:                true,
	StatusTestingDelayed:              true,
	StatusTestingCompleted:            true,
	StatusReportGenerated:             true,
	StatusReportSent:                  true,
	StatusCompleted:                   true,
}

// Gate guards lab-operation transitions on a test request by inspecting its
// linked billing, keeping payment policy out of the entity itself.
type Gate struct {
	billing BillingReader
}

func NewGate(billing BillingReader) *Gate {
	return &Gate{billing: billing}
}

// Check rejects lab work on a request whose billing is missing or unpaid.
// Billing_Paid is trusted as-is; Billing_Generated additionally requires the
// linked bill to show money received — partial payment unlocks lab work,
// full payment is not required here. superAdmin, Admin, and super
// consultants bypass the gate.
func (g *Gate) Check(ctx context.Context, caller auth.Caller, req *TestRequest) error {
	if caller.IsElevated() || caller.Role == auth.RoleSuperConsultant {
		return nil
	}
	if !gateAllowed[req.Status] {
		return apperror.New(apperror.KindForbidden, "billing must be completed before lab operations")
	}
	if req.Status != StatusBillingGenerated {
		return nil
	}
	if req.BillingID == nil {
		return apperror.New(apperror.KindForbidden, "billing must be completed before lab operations")
	}
	paid, err := g.billing.PaidAmountOf(ctx, *req.BillingID)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "look up billing for gate check")
	}
	if !paid.IsPositive() {
		return apperror.New(apperror.KindForbidden, "billing must be completed before lab operations")
	}
	return nil
}
