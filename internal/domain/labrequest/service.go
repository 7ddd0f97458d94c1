package labrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
)

// DirectoryPatient is the slice of a patient record this package needs.
type DirectoryPatient struct {
	ID       uuid.UUID
	Name     string
	CenterID uuid.UUID
}

// DirectoryStaff identifies collectors and technicians.
type DirectoryStaff struct {
	ID   uuid.UUID
	Name string
	Role string
}

// Directory resolves patient and staff references. The concrete adapter is
// wired in main to avoid a package cycle with the directory service.
type Directory interface {
	FindPatientByID(ctx context.Context, id uuid.UUID) (*DirectoryPatient, error)
	FindStaffByID(ctx context.Context, id uuid.UUID) (*DirectoryStaff, error)
}

// Transactor runs a function inside a database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements the test request workflow.
type Service struct {
	repo      Repository
	directory Directory
	gate      *Gate
	tx        Transactor
	now       func() time.Time
}

func NewService(repo Repository, dir Directory, gate *Gate, tx Transactor) *Service {
	return &Service{
		repo:      repo,
		directory: dir,
		gate:      gate,
		tx:        tx,
		now:       time.Now,
	}
}

// -- Creation and billing hooks --

type CreateInput struct {
	PatientID uuid.UUID
	CenterID  uuid.UUID
	TestTypes []string
	Priority  Priority
	Notes     string
}

// Create opens a new test request on behalf of the calling doctor. The
// request starts in Billing_Pending and waits for the front desk.
func (s *Service) Create(ctx context.Context, caller auth.Caller, in CreateInput) (*TestRequest, error) {
	if len(in.TestTypes) == 0 {
		return nil, apperror.New(apperror.KindValidation, "at least one test type is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !validPriorities[in.Priority] {
		return nil, apperror.New(apperror.KindValidation, "invalid priority: %s", in.Priority)
	}

	patient, err := s.directory.FindPatientByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	centerID := caller.ScopeCenter()
	if centerID == uuid.Nil {
		centerID = in.CenterID
	}
	if centerID == uuid.Nil {
		centerID = patient.CenterID
	}

	t := &TestRequest{
		PatientID: patient.ID,
		DoctorID:  caller.UserID,
		CenterID:  centerID,
		TestTypes: in.TestTypes,
		Priority:  in.Priority,
		Status:    StatusBillingPending,
		Notes:     in.Notes,
		CreatedBy: caller.UserID,
		UpdatedBy: caller.UserID,
		IsActive:  true,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "create test request")
	}
	return t, nil
}

// AttachBilling links a freshly created bill to the request and moves it to
// Billing_Generated. Called by the billing service inside its own
// transaction.
func (s *Service) AttachBilling(ctx context.Context, testRequestID, billingID uuid.UUID) error {
	t, err := s.repo.GetByIDForUpdate(ctx, testRequestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("test request", testRequestID, false)
		}
		return apperror.Wrap(apperror.KindInternal, err, "load test request")
	}
	if t.BillingID != nil {
		return apperror.New(apperror.KindInvalidState, "test request already has billing %s", *t.BillingID)
	}
	if !CanTransition(t.Status, StatusBillingGenerated) {
		return apperror.New(apperror.KindInvalidState, "cannot bill a request in status %s", t.Status)
	}
	t.BillingID = &billingID
	t.Status = StatusBillingGenerated
	if err := s.repo.Update(ctx, t); err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "attach billing")
	}
	return nil
}

// MarkBillingPaid advances Billing_Generated to Billing_Paid once the bill
// is settled in full. Requests already past the billing stage are left
// alone.
func (s *Service) MarkBillingPaid(ctx context.Context, testRequestID uuid.UUID) error {
	t, err := s.repo.GetByIDForUpdate(ctx, testRequestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("test request", testRequestID, false)
		}
		return apperror.Wrap(apperror.KindInternal, err, "load test request")
	}
	if t.Status != StatusBillingGenerated {
		return nil
	}
	t.Status = StatusBillingPaid
	if err := s.repo.Update(ctx, t); err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "mark billing paid")
	}
	return nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, caller auth.Caller, id uuid.UUID) (*TestRequest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("test request", id, false)
		}
		return nil, apperror.Wrap(apperror.KindInternal, err, "load test request")
	}
	if !t.IsActive {
		return nil, apperror.NotFound("test request", id, true)
	}
	if err := s.checkScope(caller, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, caller auth.Caller, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	if scope := caller.ScopeCenter(); scope != uuid.Nil && caller.Role != auth.RoleSuperConsultant {
		f.CenterID = scope
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.KindInternal, err, "list test requests")
	}
	return items, total, nil
}

// -- Sample collection --

type ScheduleCollectionInput struct {
	Date        time.Time
	Time        string
	CollectorID uuid.UUID
	Notes       string
}

// ScheduleSampleCollection books a collector for the specimen pickup. The
// collector's display name is copied onto the record at this point.
func (s *Service) ScheduleSampleCollection(ctx context.Context, caller auth.Caller, id uuid.UUID, in ScheduleCollectionInput) (*TestRequest, error) {
	if in.CollectorID == uuid.Nil {
		return nil, apperror.New(apperror.KindValidation, "collector_id is required")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		collector, err := s.directory.FindStaffByID(ctx, in.CollectorID)
		if err != nil {
			return err
		}
		date := in.Date
		t.Sample = &SampleCollection{
			ScheduledDate: &date,
			ScheduledTime: in.Time,
			CollectorID:   &collector.ID,
			CollectorName: collector.Name,
			Notes:         in.Notes,
		}
		return s.transition(caller, t, StatusSampleCollectionScheduled)
	})
}

// RescheduleSampleCollection moves an existing booking to a new slot.
func (s *Service) RescheduleSampleCollection(ctx context.Context, caller auth.Caller, id uuid.UUID, in ScheduleCollectionInput) (*TestRequest, error) {
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Sample == nil {
			return apperror.New(apperror.KindInvalidState, "no sample collection scheduled yet")
		}
		date := in.Date
		t.Sample.ScheduledDate = &date
		if in.Time != "" {
			t.Sample.ScheduledTime = in.Time
		}
		if in.CollectorID != uuid.Nil {
			collector, err := s.directory.FindStaffByID(ctx, in.CollectorID)
			if err != nil {
				return err
			}
			t.Sample.CollectorID = &collector.ID
			t.Sample.CollectorName = collector.Name
		}
		if in.Notes != "" {
			t.Sample.Notes = in.Notes
		}
		return s.transition(caller, t, StatusSampleCollectionRescheduled)
	})
}

func (s *Service) MarkCollectionDelayed(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error) {
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Sample == nil {
			return apperror.New(apperror.KindInvalidState, "no sample collection scheduled yet")
		}
		if reason != "" {
			t.Sample.Notes = reason
		}
		return s.transition(caller, t, StatusSampleCollectionDelayed)
	})
}

func (s *Service) MarkSampleCollected(ctx context.Context, caller auth.Caller, id uuid.UUID, notes string) (*TestRequest, error) {
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Sample == nil {
			return apperror.New(apperror.KindInvalidState, "no sample collection scheduled yet")
		}
		collectedAt := s.now()
		t.Sample.CollectedAt = &collectedAt
		if notes != "" {
			t.Sample.Notes = notes
		}
		return s.transition(caller, t, StatusSampleCollected)
	})
}

func (s *Service) MarkCollectionFailed(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error) {
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, "a failure reason is required")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Sample == nil {
			return apperror.New(apperror.KindInvalidState, "no sample collection scheduled yet")
		}
		t.Sample.FailureReason = reason
		return s.transition(caller, t, StatusSampleCollectionFailed)
	})
}

// -- Lab testing --

func (s *Service) StartTesting(ctx context.Context, caller auth.Caller, id uuid.UUID, technicianID uuid.UUID, notes string) (*TestRequest, error) {
	if technicianID == uuid.Nil {
		return nil, apperror.New(apperror.KindValidation, "technician_id is required")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		tech, err := s.directory.FindStaffByID(ctx, technicianID)
		if err != nil {
			return err
		}
		startedAt := s.now()
		t.Testing = &LabTesting{
			TechnicianID: &tech.ID,
			StartedAt:    &startedAt,
			Notes:        notes,
		}
		return s.transition(caller, t, StatusInLabTesting)
	})
}

func (s *Service) MarkTestingDelayed(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error) {
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Testing == nil {
			return apperror.New(apperror.KindInvalidState, "testing has not started")
		}
		if reason != "" {
			t.Testing.Notes = reason
		}
		return s.transition(caller, t, StatusTestingDelayed)
	})
}

func (s *Service) CompleteTesting(ctx context.Context, caller auth.Caller, id uuid.UUID, results, notes string) (*TestRequest, error) {
	if results == "" {
		return nil, apperror.New(apperror.KindValidation, "results are required to complete testing")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if t.Testing == nil {
			return apperror.New(apperror.KindInvalidState, "testing has not started")
		}
		completedAt := s.now()
		t.Testing.CompletedAt = &completedAt
		t.Testing.Results = results
		if notes != "" {
			t.Testing.Notes = notes
		}
		return s.transition(caller, t, StatusTestingCompleted)
	})
}

// -- Reports --

type UploadReportInput struct {
	BlobID      uuid.UUID
	FileName    string
	TestResults string
	Notes       string
}

// UploadLabReport stores the report reference. The slot is overwritten on
// re-upload; each upload leaves a dispatch-log entry so earlier generations
// stay auditable.
func (s *Service) UploadLabReport(ctx context.Context, caller auth.Caller, id uuid.UUID, in UploadReportInput) (*TestRequest, error) {
	if in.BlobID == uuid.Nil {
		return nil, apperror.New(apperror.KindValidation, "a report file reference is required")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		now := s.now()
		t.Report = &LabReport{
			BlobID:      in.BlobID,
			FileName:    in.FileName,
			TestResults: in.TestResults,
			Notes:       in.Notes,
			GeneratedAt: now,
			GeneratedBy: caller.UserID,
		}
		t.DispatchLog = append(t.DispatchLog, DispatchLogEntry{
			Event:   "generated",
			Notes:   in.Notes,
			ActorID: caller.UserID,
			At:      now,
		})
		return s.transition(caller, t, StatusReportGenerated)
	})
}

type SendReportInput struct {
	Method    string
	Recipient string
	Notes     string
}

// SendLabReport records a dispatch of the current report.
func (s *Service) SendLabReport(ctx context.Context, caller auth.Caller, id uuid.UUID, in SendReportInput) (*TestRequest, error) {
	if in.Method == "" {
		return nil, apperror.New(apperror.KindValidation, "send method is required")
	}
	return s.update(ctx, caller, id, true, func(ctx context.Context, t *TestRequest) error {
		if !t.HasReport() {
			return apperror.New(apperror.KindValidation, "no report to send")
		}
		t.DispatchLog = append(t.DispatchLog, DispatchLogEntry{
			Event:     "sent",
			Method:    in.Method,
			Recipient: in.Recipient,
			Notes:     in.Notes,
			ActorID:   caller.UserID,
			At:        s.now(),
		})
		return s.transition(caller, t, StatusReportSent)
	})
}

// -- Review --

type ReviewInput struct {
	Status          string
	Feedback        string
	AdditionalTests []string
	Recommendations string
}

// SubmitReview records the super-consultant sign-off and maps its outcome
// onto the request status: Approved closes the request, Rejected and
// Needs_Additional_Tests end it in their respective states. Resubmission
// overwrites the single review slot while the request is still
// review-eligible.
func (s *Service) SubmitReview(ctx context.Context, caller auth.Caller, id uuid.UUID, in ReviewInput) (*TestRequest, error) {
	if !validReviewStatuses[in.Status] {
		return nil, apperror.New(apperror.KindValidation, "invalid review status: %s", in.Status)
	}
	return s.update(ctx, caller, id, false, func(ctx context.Context, t *TestRequest) error {
		if !t.HasReport() {
			return apperror.New(apperror.KindValidation, "no lab report to review")
		}
		t.Review = &Review{
			ReviewerID:      caller.UserID,
			ReviewedAt:      s.now(),
			Status:          in.Status,
			Feedback:        in.Feedback,
			AdditionalTests: in.AdditionalTests,
			Recommendations: in.Recommendations,
		}
		var target Status
		switch in.Status {
		case ReviewApproved:
			target = StatusCompleted
		case ReviewNeedsMoreTests:
			target = StatusNeedsAdditionalTests
		case ReviewRejected:
			target = StatusReviewRejected
		}
		return s.transition(caller, t, target)
	})
}

// -- Administrative --

func (s *Service) Cancel(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error) {
	return s.update(ctx, caller, id, false, func(ctx context.Context, t *TestRequest) error {
		if reason != "" {
			t.Notes = appendNote(t.Notes, "cancelled: "+reason)
		}
		return s.transition(caller, t, StatusCancelled)
	})
}

func (s *Service) PutOnHold(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error) {
	return s.update(ctx, caller, id, false, func(ctx context.Context, t *TestRequest) error {
		if reason != "" {
			t.Notes = appendNote(t.Notes, "on hold: "+reason)
		}
		return s.transition(caller, t, StatusOnHold)
	})
}

// -- Internals --

// update runs a workflow mutation under a row lock. gated mutations consult
// the billing gate first.
func (s *Service) update(ctx context.Context, caller auth.Caller, id uuid.UUID, gated bool, fn func(ctx context.Context, t *TestRequest) error) (*TestRequest, error) {
	var out *TestRequest
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.NotFound("test request", id, false)
			}
			return apperror.Wrap(apperror.KindInternal, err, "load test request")
		}
		if !t.IsActive {
			return apperror.NotFound("test request", id, true)
		}
		if err := s.checkScope(caller, t); err != nil {
			return err
		}
		if gated {
			if err := s.gate.Check(ctx, caller, t); err != nil {
				return err
			}
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		t.UpdatedBy = caller.UserID
		if err := s.repo.Update(ctx, t); err != nil {
			return apperror.Wrap(apperror.KindInternal, err, "update test request")
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transition applies a status change if the graph permits it. Elevated
// callers may override the graph administratively.
func (s *Service) transition(caller auth.Caller, t *TestRequest, to Status) error {
	if !CanTransition(t.Status, to) && !caller.IsElevated() {
		return apperror.New(apperror.KindInvalidState, "cannot move request from %s to %s", t.Status, to)
	}
	t.Status = to
	return nil
}

func (s *Service) checkScope(caller auth.Caller, t *TestRequest) error {
	if caller.IsElevated() || caller.Role == auth.RoleSuperConsultant {
		return nil
	}
	if t.CenterID != caller.CenterID {
		return apperror.New(apperror.KindForbidden, "test request belongs to another center")
	}
	return nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return fmt.Sprintf("%s\n%s", existing, note)
}
