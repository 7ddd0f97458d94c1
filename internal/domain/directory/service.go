package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
)

type Service struct {
	patients PatientRepository
	centers  CenterRepository
	staff    StaffRepository
}

func NewService(patients PatientRepository, centers CenterRepository, staff StaffRepository) *Service {
	return &Service{patients: patients, centers: centers, staff: staff}
}

var validStaffRoles = map[string]bool{
	auth.RoleAdmin: true, auth.RoleDoctor: true, auth.RoleReceptionist: true,
	auth.RoleAccountant: true, auth.RoleLabCollector: true,
	auth.RoleLabTechnician: true, auth.RoleSuperConsultant: true,
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, caller auth.Caller, p *Patient) error {
	if p.FirstName == "" {
		return apperror.New(apperror.KindValidation, "first_name is required")
	}
	if p.Phone == "" {
		return apperror.New(apperror.KindValidation, "phone is required")
	}
	if p.CenterID == uuid.Nil {
		p.CenterID = caller.CenterID
	}
	if p.CenterID == uuid.Nil {
		return apperror.New(apperror.KindValidation, "center_id is required")
	}
	if _, err := s.FindCenterByID(ctx, p.CenterID); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

// FindPatientByID resolves a patient reference for the billing and lab
// workflows. Deactivated patients are reported distinctly from unknown ids.
func (s *Service) FindPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("patient", id.String(), false)
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, apperror.NotFound("patient", id.String(), true)
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, caller auth.Caller, p *Patient) error {
	existing, err := s.FindPatientByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if scope := caller.ScopeCenter(); scope != uuid.Nil && existing.CenterID != scope {
		return apperror.New(apperror.KindForbidden, "patient belongs to another center")
	}
	p.CenterID = existing.CenterID
	p.IsActive = existing.IsActive
	return s.patients.Update(ctx, p)
}

func (s *Service) DeactivatePatient(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	p, err := s.FindPatientByID(ctx, id)
	if err != nil {
		return err
	}
	if scope := caller.ScopeCenter(); scope != uuid.Nil && p.CenterID != scope {
		return apperror.New(apperror.KindForbidden, "patient belongs to another center")
	}
	p.IsActive = false
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, caller auth.Caller, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, caller.ScopeCenter(), limit, offset)
}

// -- Center --

func (s *Service) CreateCenter(ctx context.Context, caller auth.Caller, c *Center) error {
	if !caller.IsSuperAdmin() {
		return apperror.New(apperror.KindForbidden, "only superAdmin may create centers")
	}
	if c.Name == "" {
		return apperror.New(apperror.KindValidation, "name is required")
	}
	if c.Code == "" {
		return apperror.New(apperror.KindValidation, "code is required")
	}
	return s.centers.Create(ctx, c)
}

func (s *Service) FindCenterByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	c, err := s.centers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("center", id.String(), false)
		}
		return nil, err
	}
	if !c.IsActive {
		return nil, apperror.NotFound("center", id.String(), true)
	}
	return c, nil
}

func (s *Service) ListCenters(ctx context.Context, limit, offset int) ([]*Center, int, error) {
	return s.centers.List(ctx, limit, offset)
}

// -- Staff --

func (s *Service) CreateStaff(ctx context.Context, caller auth.Caller, st *Staff) error {
	if !caller.IsElevated() {
		return apperror.New(apperror.KindForbidden, "only admins may create staff")
	}
	if st.FirstName == "" {
		return apperror.New(apperror.KindValidation, "first_name is required")
	}
	if !validStaffRoles[st.Role] {
		return apperror.New(apperror.KindValidation, "invalid staff role: %s", st.Role)
	}
	if st.CenterID == uuid.Nil {
		return apperror.New(apperror.KindValidation, "center_id is required")
	}
	if _, err := s.FindCenterByID(ctx, st.CenterID); err != nil {
		return err
	}
	return s.staff.Create(ctx, st)
}

// FindStaffByID resolves a doctor, collector, or technician reference.
func (s *Service) FindStaffByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("staff", id.String(), false)
		}
		return nil, err
	}
	if !st.IsActive {
		return nil, apperror.NotFound("staff", id.String(), true)
	}
	return st, nil
}

// FindStaffWithRole resolves a staff reference and checks the expected role.
func (s *Service) FindStaffWithRole(ctx context.Context, id uuid.UUID, role string) (*Staff, error) {
	st, err := s.FindStaffByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Role != role {
		return nil, apperror.New(apperror.KindValidation, "staff member does not hold role %s", role)
	}
	return st, nil
}

func (s *Service) DeactivateStaff(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	if !caller.IsElevated() {
		return apperror.New(apperror.KindForbidden, "only admins may deactivate staff")
	}
	st, err := s.FindStaffByID(ctx, id)
	if err != nil {
		return err
	}
	st.IsActive = false
	return s.staff.Update(ctx, st)
}

func (s *Service) ListStaff(ctx context.Context, caller auth.Caller, role string, limit, offset int) ([]*Staff, int, error) {
	return s.staff.List(ctx, caller.ScopeCenter(), role, limit, offset)
}
