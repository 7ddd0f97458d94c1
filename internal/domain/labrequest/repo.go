package labrequest

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a test request listing. Zero values mean no filter.
type ListFilter struct {
	CenterID  uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    Status
}

type Repository interface {
	Create(ctx context.Context, t *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	// GetByIDForUpdate takes a row lock so concurrent workflow transitions
	// on the same request serialize.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	Update(ctx context.Context, t *TestRequest) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error)
}
