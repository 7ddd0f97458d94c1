package billing

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List queries. Zero values mean "no filter"; CenterID is
// set from the caller's scope for non-elevated roles.
type ListFilter struct {
	CenterID  uuid.UUID
	PatientID uuid.UUID
	Status    string
	Kind      Kind
}

type Repository interface {
	Create(ctx context.Context, b *Billing) error
	GetByID(ctx context.Context, id uuid.UUID) (*Billing, error)
	// GetByIDForUpdate reads the row with a write lock so concurrent payment
	// submissions against the same bill serialize inside the transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Billing, error)
	Update(ctx context.Context, b *Billing) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Billing, int, error)

	AppendPayment(ctx context.Context, e *PaymentEntry) error
	ListPayments(ctx context.Context, billingID uuid.UUID) ([]*PaymentEntry, error)
	ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error)

	AppendStageLog(ctx context.Context, e *StageLogEntry) error
	ListStageLog(ctx context.Context, billingID uuid.UUID) ([]*StageLogEntry, error)

	CountByStatus(ctx context.Context, centerID uuid.UUID) (map[string]int, error)
}
