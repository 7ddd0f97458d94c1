package directory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	items map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.IsActive = true
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, centerID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.items {
		if !p.IsActive {
			continue
		}
		if centerID != uuid.Nil && p.CenterID != centerID {
			continue
		}
		result = append(result, p)
	}
	return result, len(result), nil
}

type mockCenterRepo struct {
	items map[uuid.UUID]*Center
}

func newMockCenterRepo() *mockCenterRepo {
	return &mockCenterRepo{items: make(map[uuid.UUID]*Center)}
}

func (m *mockCenterRepo) Create(_ context.Context, c *Center) error {
	c.ID = uuid.New()
	c.IsActive = true
	m.items[c.ID] = c
	return nil
}

func (m *mockCenterRepo) GetByID(_ context.Context, id uuid.UUID) (*Center, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

func (m *mockCenterRepo) Update(_ context.Context, c *Center) error {
	m.items[c.ID] = c
	return nil
}

func (m *mockCenterRepo) List(_ context.Context, limit, offset int) ([]*Center, int, error) {
	var result []*Center
	for _, c := range m.items {
		if c.IsActive {
			result = append(result, c)
		}
	}
	return result, len(result), nil
}

type mockStaffRepo struct {
	items map[uuid.UUID]*Staff
}

func newMockStaffRepo() *mockStaffRepo {
	return &mockStaffRepo{items: make(map[uuid.UUID]*Staff)}
}

func (m *mockStaffRepo) Create(_ context.Context, s *Staff) error {
	s.ID = uuid.New()
	s.IsActive = true
	m.items[s.ID] = s
	return nil
}

func (m *mockStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (m *mockStaffRepo) Update(_ context.Context, s *Staff) error {
	m.items[s.ID] = s
	return nil
}

func (m *mockStaffRepo) List(_ context.Context, centerID uuid.UUID, role string, limit, offset int) ([]*Staff, int, error) {
	var result []*Staff
	for _, s := range m.items {
		if !s.IsActive {
			continue
		}
		if centerID != uuid.Nil && s.CenterID != centerID {
			continue
		}
		if role != "" && s.Role != role {
			continue
		}
		result = append(result, s)
	}
	return result, len(result), nil
}

// -- Helpers --

func newTestService(t *testing.T) (*Service, *Center) {
	t.Helper()
	svc := NewService(newMockPatientRepo(), newMockCenterRepo(), newMockStaffRepo())
	center := &Center{Name: "Main Clinic", Code: "MC01"}
	caller := auth.Caller{UserID: uuid.New(), Role: auth.RoleSuperAdmin}
	if err := svc.CreateCenter(context.Background(), caller, center); err != nil {
		t.Fatalf("CreateCenter: %v", err)
	}
	return svc, center
}

func adminCaller(centerID uuid.UUID) auth.Caller {
	return auth.Caller{UserID: uuid.New(), Role: auth.RoleAdmin, CenterID: centerID}
}

// -- Tests --

func TestCreatePatient(t *testing.T) {
	svc, center := newTestService(t)
	caller := adminCaller(center.ID)

	p := &Patient{FirstName: "Asha", LastName: "Rao", Phone: "555-0100", CenterID: center.ID}
	if err := svc.CreatePatient(context.Background(), caller, p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected generated patient id")
	}
	if p.FullName() != "Asha Rao" {
		t.Errorf("FullName() = %q, want %q", p.FullName(), "Asha Rao")
	}
}

func TestCreatePatient_MissingFields(t *testing.T) {
	svc, center := newTestService(t)
	caller := adminCaller(center.ID)

	err := svc.CreatePatient(context.Background(), caller, &Patient{Phone: "555", CenterID: center.ID})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("missing first name: kind = %v, want validation", apperror.KindOf(err))
	}

	err = svc.CreatePatient(context.Background(), caller, &Patient{FirstName: "A", CenterID: center.ID})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("missing phone: kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestCreatePatient_UnknownCenter(t *testing.T) {
	svc, _ := newTestService(t)
	caller := adminCaller(uuid.New())

	err := svc.CreatePatient(context.Background(), caller, &Patient{
		FirstName: "A", Phone: "555", CenterID: uuid.New(),
	})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("kind = %v, want not_found", apperror.KindOf(err))
	}
}

func TestFindPatientByID_Deactivated(t *testing.T) {
	svc, center := newTestService(t)
	caller := adminCaller(center.ID)

	p := &Patient{FirstName: "Asha", Phone: "555", CenterID: center.ID}
	if err := svc.CreatePatient(context.Background(), caller, p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if err := svc.DeactivatePatient(context.Background(), caller, p.ID); err != nil {
		t.Fatalf("DeactivatePatient: %v", err)
	}

	_, err := svc.FindPatientByID(context.Background(), p.ID)
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("kind = %v, want not_found", apperror.KindOf(err))
	}
	if got := err.Error(); got != "patient "+p.ID.String()+" is deactivated" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestListPatients_CenterScoping(t *testing.T) {
	svc, center := newTestService(t)
	other := &Center{Name: "Branch", Code: "BR01"}
	super := auth.Caller{UserID: uuid.New(), Role: auth.RoleSuperAdmin}
	if err := svc.CreateCenter(context.Background(), super, other); err != nil {
		t.Fatalf("CreateCenter: %v", err)
	}

	for _, cid := range []uuid.UUID{center.ID, center.ID, other.ID} {
		p := &Patient{FirstName: "P", Phone: "555", CenterID: cid}
		if err := svc.CreatePatient(context.Background(), super, p); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
	}

	// Receptionist sees only their own center.
	recep := auth.Caller{UserID: uuid.New(), Role: auth.RoleReceptionist, CenterID: center.ID}
	items, total, err := svc.ListPatients(context.Background(), recep, 10, 0)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("scoped list: total = %d, len = %d, want 2", total, len(items))
	}

	// superAdmin sees all centers.
	items, total, err = svc.ListPatients(context.Background(), super, 10, 0)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if total != 3 {
		t.Errorf("unscoped list: total = %d, want 3", total)
	}
	_ = items
}

func TestCreateCenter_RequiresSuperAdmin(t *testing.T) {
	svc, center := newTestService(t)

	err := svc.CreateCenter(context.Background(), adminCaller(center.ID), &Center{Name: "X", Code: "X1"})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("kind = %v, want forbidden", apperror.KindOf(err))
	}
}

func TestCreateStaff(t *testing.T) {
	svc, center := newTestService(t)
	caller := adminCaller(center.ID)

	st := &Staff{FirstName: "Ben", LastName: "Okafor", Role: auth.RoleDoctor, CenterID: center.ID}
	if err := svc.CreateStaff(context.Background(), caller, st); err != nil {
		t.Fatalf("CreateStaff: %v", err)
	}

	got, err := svc.FindStaffWithRole(context.Background(), st.ID, auth.RoleDoctor)
	if err != nil {
		t.Fatalf("FindStaffWithRole: %v", err)
	}
	if got.FullName() != "Ben Okafor" {
		t.Errorf("FullName() = %q", got.FullName())
	}

	_, err = svc.FindStaffWithRole(context.Background(), st.ID, auth.RoleLabTechnician)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("wrong role: kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestCreateStaff_InvalidRole(t *testing.T) {
	svc, center := newTestService(t)
	caller := adminCaller(center.ID)

	err := svc.CreateStaff(context.Background(), caller, &Staff{
		FirstName: "Ben", Role: "Janitor", CenterID: center.ID,
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestCreateStaff_RequiresElevatedCaller(t *testing.T) {
	svc, center := newTestService(t)
	recep := auth.Caller{UserID: uuid.New(), Role: auth.RoleReceptionist, CenterID: center.ID}

	err := svc.CreateStaff(context.Background(), recep, &Staff{
		FirstName: "Ben", Role: auth.RoleDoctor, CenterID: center.ID,
	})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("kind = %v, want forbidden", apperror.KindOf(err))
	}
}
