package labrequest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperror"
	"github.com/clinic/clinic/internal/platform/auth"
)

// -- Mocks --

type mockRepo struct {
	items map[uuid.UUID]*TestRequest
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*TestRequest)}
}

func (m *mockRepo) Create(_ context.Context, t *TestRequest) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = time.Now()
	copied := *t
	m.items[t.ID] = &copied
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*TestRequest, error) {
	t, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *t
	return &copied, nil
}

func (m *mockRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, t *TestRequest) error {
	copied := *t
	m.items[t.ID] = &copied
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*TestRequest, int, error) {
	var result []*TestRequest
	for _, t := range m.items {
		if !t.IsActive {
			continue
		}
		if f.CenterID != uuid.Nil && t.CenterID != f.CenterID {
			continue
		}
		if f.PatientID != uuid.Nil && t.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != uuid.Nil && t.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		result = append(result, t)
	}
	return result, len(result), nil
}

type mockDirectory struct {
	patients map[uuid.UUID]*DirectoryPatient
	staff    map[uuid.UUID]*DirectoryStaff
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		patients: make(map[uuid.UUID]*DirectoryPatient),
		staff:    make(map[uuid.UUID]*DirectoryStaff),
	}
}

func (m *mockDirectory) FindPatientByID(_ context.Context, id uuid.UUID) (*DirectoryPatient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient", id, false)
	}
	return p, nil
}

func (m *mockDirectory) FindStaffByID(_ context.Context, id uuid.UUID) (*DirectoryStaff, error) {
	st, ok := m.staff[id]
	if !ok {
		return nil, apperror.NotFound("staff", id, false)
	}
	return st, nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fixture --

type fixture struct {
	svc         *Service
	repo        *mockRepo
	billing     *mockBillingReader
	doctor      auth.Caller
	collector   auth.Caller
	technician  auth.Caller
	consultant  auth.Caller
	patientID   uuid.UUID
	collectorID uuid.UUID
	techID      uuid.UUID
	centerID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	dir := newMockDirectory()
	billing := &mockBillingReader{paid: make(map[uuid.UUID]decimal.Decimal)}
	centerID := uuid.New()

	patientID := uuid.New()
	dir.patients[patientID] = &DirectoryPatient{ID: patientID, Name: "Asha Rao", CenterID: centerID}
	collectorID := uuid.New()
	dir.staff[collectorID] = &DirectoryStaff{ID: collectorID, Name: "Ravi Menon", Role: auth.RoleLabCollector}
	techID := uuid.New()
	dir.staff[techID] = &DirectoryStaff{ID: techID, Name: "Lena Fischer", Role: auth.RoleLabTechnician}

	svc := NewService(repo, dir, NewGate(billing), passTx{})

	return &fixture{
		svc:         svc,
		repo:        repo,
		billing:     billing,
		doctor:      auth.Caller{UserID: uuid.New(), Role: auth.RoleDoctor, CenterID: centerID},
		collector:   auth.Caller{UserID: collectorID, Role: auth.RoleLabCollector, CenterID: centerID},
		technician:  auth.Caller{UserID: techID, Role: auth.RoleLabTechnician, CenterID: centerID},
		consultant:  auth.Caller{UserID: uuid.New(), Role: auth.RoleSuperConsultant},
		patientID:   patientID,
		collectorID: collectorID,
		techID:      techID,
		centerID:    centerID,
	}
}

func (f *fixture) createRequest(t *testing.T) *TestRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), f.doctor, CreateInput{
		PatientID: f.patientID,
		TestTypes: []string{"CBC", "LFT"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

// createPaidRequest moves a fresh request to Billing_Paid.
func (f *fixture) createPaidRequest(t *testing.T) *TestRequest {
	t.Helper()
	req := f.createRequest(t)
	billingID := uuid.New()
	if err := f.svc.AttachBilling(context.Background(), req.ID, billingID); err != nil {
		t.Fatalf("AttachBilling: %v", err)
	}
	if err := f.svc.MarkBillingPaid(context.Background(), req.ID); err != nil {
		t.Fatalf("MarkBillingPaid: %v", err)
	}
	return req
}

func (f *fixture) schedule(t *testing.T, id uuid.UUID) *TestRequest {
	t.Helper()
	req, err := f.svc.ScheduleSampleCollection(context.Background(), f.collector, id, ScheduleCollectionInput{
		Date:        time.Now().Add(24 * time.Hour),
		Time:        "09:30",
		CollectorID: f.collectorID,
	})
	if err != nil {
		t.Fatalf("ScheduleSampleCollection: %v", err)
	}
	return req
}

// advanceToReport walks a paid request through the happy path until a report
// is uploaded.
func (f *fixture) advanceToReport(t *testing.T) *TestRequest {
	t.Helper()
	req := f.createPaidRequest(t)
	f.schedule(t, req.ID)
	if _, err := f.svc.MarkSampleCollected(context.Background(), f.collector, req.ID, ""); err != nil {
		t.Fatalf("MarkSampleCollected: %v", err)
	}
	if _, err := f.svc.StartTesting(context.Background(), f.technician, req.ID, f.techID, ""); err != nil {
		t.Fatalf("StartTesting: %v", err)
	}
	if _, err := f.svc.CompleteTesting(context.Background(), f.technician, req.ID, "hemoglobin 13.2", ""); err != nil {
		t.Fatalf("CompleteTesting: %v", err)
	}
	updated, err := f.svc.UploadLabReport(context.Background(), f.technician, req.ID, UploadReportInput{
		BlobID:   uuid.New(),
		FileName: "cbc-report.pdf",
	})
	if err != nil {
		t.Fatalf("UploadLabReport: %v", err)
	}
	return updated
}

// -- Tests --

func TestCreate(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	if req.Status != StatusBillingPending {
		t.Errorf("status = %s, want Billing_Pending", req.Status)
	}
	if req.Priority != PriorityNormal {
		t.Errorf("priority = %s, want Normal", req.Priority)
	}
	if req.DoctorID != f.doctor.UserID {
		t.Error("doctor should be the calling user")
	}
	if req.CenterID != f.centerID {
		t.Error("center should come from the caller's scope")
	}
}

func TestCreate_RequiresTestTypes(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.doctor, CreateInput{PatientID: f.patientID})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestCreate_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.doctor, CreateInput{
		PatientID: uuid.New(),
		TestTypes: []string{"CBC"},
	})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("kind = %v, want not_found", apperror.KindOf(err))
	}
}

func TestAttachBilling(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	billingID := uuid.New()

	if err := f.svc.AttachBilling(context.Background(), req.ID, billingID); err != nil {
		t.Fatalf("AttachBilling: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), f.doctor, req.ID)
	if got.Status != StatusBillingGenerated {
		t.Errorf("status = %s, want Billing_Generated", got.Status)
	}
	if got.BillingID == nil || *got.BillingID != billingID {
		t.Error("billing id not linked")
	}

	// A second bill on the same request is illegal.
	err := f.svc.AttachBilling(context.Background(), req.ID, uuid.New())
	if !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("kind = %v, want invalid_state", apperror.KindOf(err))
	}
}

func TestMarkBillingPaid(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	if err := f.svc.AttachBilling(context.Background(), req.ID, uuid.New()); err != nil {
		t.Fatalf("AttachBilling: %v", err)
	}

	if err := f.svc.MarkBillingPaid(context.Background(), req.ID); err != nil {
		t.Fatalf("MarkBillingPaid: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), f.doctor, req.ID)
	if got.Status != StatusBillingPaid {
		t.Errorf("status = %s, want Billing_Paid", got.Status)
	}
}

func TestMarkBillingPaid_LeavesLaterStatesAlone(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)
	f.schedule(t, req.ID)

	// A late payment notification must not rewind the workflow.
	if err := f.svc.MarkBillingPaid(context.Background(), req.ID); err != nil {
		t.Fatalf("MarkBillingPaid: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), f.doctor, req.ID)
	if got.Status != StatusSampleCollectionScheduled {
		t.Errorf("status = %s, want Sample_Collection_Scheduled", got.Status)
	}
}

func TestScheduleSampleCollection_GateBlocksUnpaidBill(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	billingID := uuid.New()
	if err := f.svc.AttachBilling(context.Background(), req.ID, billingID); err != nil {
		t.Fatalf("AttachBilling: %v", err)
	}
	f.billing.paid[billingID] = decimal.Zero

	_, err := f.svc.ScheduleSampleCollection(context.Background(), f.collector, req.ID, ScheduleCollectionInput{
		Date:        time.Now(),
		CollectorID: f.collectorID,
	})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Fatalf("kind = %v, want forbidden", apperror.KindOf(err))
	}

	// The smallest payment unlocks scheduling.
	f.billing.paid[billingID] = decimal.NewFromInt(1)
	updated, err := f.svc.ScheduleSampleCollection(context.Background(), f.collector, req.ID, ScheduleCollectionInput{
		Date:        time.Now(),
		CollectorID: f.collectorID,
	})
	if err != nil {
		t.Fatalf("ScheduleSampleCollection after payment: %v", err)
	}
	if updated.Status != StatusSampleCollectionScheduled {
		t.Errorf("status = %s, want Sample_Collection_Scheduled", updated.Status)
	}
}

func TestScheduleSampleCollection_SnapshotsCollectorName(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)

	updated := f.schedule(t, req.ID)
	if updated.Sample == nil || updated.Sample.CollectorName != "Ravi Menon" {
		t.Error("collector name should be snapshotted at scheduling time")
	}
	if updated.Sample.ScheduledTime != "09:30" {
		t.Errorf("scheduled time = %q, want 09:30", updated.Sample.ScheduledTime)
	}
}

func TestScheduleSampleCollection_UnknownCollector(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)

	_, err := f.svc.ScheduleSampleCollection(context.Background(), f.collector, req.ID, ScheduleCollectionInput{
		Date:        time.Now(),
		CollectorID: uuid.New(),
	})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("kind = %v, want not_found", apperror.KindOf(err))
	}
}

func TestCollectionDelayAndReschedule(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)
	f.schedule(t, req.ID)

	delayed, err := f.svc.MarkCollectionDelayed(context.Background(), f.collector, req.ID, "patient unavailable")
	if err != nil {
		t.Fatalf("MarkCollectionDelayed: %v", err)
	}
	if delayed.Status != StatusSampleCollectionDelayed {
		t.Errorf("status = %s, want Sample_Collection_Delayed", delayed.Status)
	}

	rescheduled, err := f.svc.RescheduleSampleCollection(context.Background(), f.collector, req.ID, ScheduleCollectionInput{
		Date: time.Now().Add(48 * time.Hour),
		Time: "14:00",
	})
	if err != nil {
		t.Fatalf("RescheduleSampleCollection: %v", err)
	}
	if rescheduled.Status != StatusSampleCollectionRescheduled {
		t.Errorf("status = %s, want Sample_Collection_Rescheduled", rescheduled.Status)
	}
	if rescheduled.Sample.CollectorName != "Ravi Menon" {
		t.Error("reschedule without a new collector should keep the snapshot")
	}
}

func TestMarkCollectionFailed_RequiresReason(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)
	f.schedule(t, req.ID)

	_, err := f.svc.MarkCollectionFailed(context.Background(), f.collector, req.ID, "")
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}

	failed, err := f.svc.MarkCollectionFailed(context.Background(), f.collector, req.ID, "hemolyzed sample")
	if err != nil {
		t.Fatalf("MarkCollectionFailed: %v", err)
	}
	if failed.Status != StatusSampleCollectionFailed {
		t.Errorf("status = %s, want Sample_Collection_Failed", failed.Status)
	}
	if failed.Sample.FailureReason != "hemolyzed sample" {
		t.Errorf("failure reason = %q", failed.Sample.FailureReason)
	}
}

func TestCompleteTesting_RequiresResults(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)
	f.schedule(t, req.ID)
	if _, err := f.svc.MarkSampleCollected(context.Background(), f.collector, req.ID, ""); err != nil {
		t.Fatalf("MarkSampleCollected: %v", err)
	}
	if _, err := f.svc.StartTesting(context.Background(), f.technician, req.ID, f.techID, ""); err != nil {
		t.Fatalf("StartTesting: %v", err)
	}

	_, err := f.svc.CompleteTesting(context.Background(), f.technician, req.ID, "", "")
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestStartTesting_OutOfOrder(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)

	// Straight from Billing_Paid without a collected sample.
	_, err := f.svc.StartTesting(context.Background(), f.technician, req.ID, f.techID, "")
	if !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("kind = %v, want invalid_state", apperror.KindOf(err))
	}
}

func TestUploadLabReport(t *testing.T) {
	f := newFixture(t)
	req := f.advanceToReport(t)

	if req.Status != StatusReportGenerated {
		t.Errorf("status = %s, want Report_Generated", req.Status)
	}
	if !req.HasReport() {
		t.Fatal("report should be set")
	}
	if req.Report.GeneratedBy != f.technician.UserID {
		t.Error("report generator should be the uploading technician")
	}
	if len(req.DispatchLog) != 1 || req.DispatchLog[0].Event != "generated" {
		t.Error("upload should append a generated dispatch-log entry")
	}
}

func TestUploadLabReport_OverwriteKeepsAuditTrail(t *testing.T) {
	f := newFixture(t)
	req := f.advanceToReport(t)
	firstBlob := req.Report.BlobID

	secondBlob := uuid.New()
	updated, err := f.svc.UploadLabReport(context.Background(), f.technician, req.ID, UploadReportInput{
		BlobID:   secondBlob,
		FileName: "cbc-report-v2.pdf",
	})
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if updated.Report.BlobID != secondBlob || updated.Report.BlobID == firstBlob {
		t.Error("re-upload should overwrite the report slot")
	}
	if len(updated.DispatchLog) != 2 {
		t.Errorf("dispatch log entries = %d, want 2", len(updated.DispatchLog))
	}
}

func TestSendLabReport(t *testing.T) {
	f := newFixture(t)
	req := f.advanceToReport(t)

	sent, err := f.svc.SendLabReport(context.Background(), f.technician, req.ID, SendReportInput{
		Method:    "email",
		Recipient: "asha.rao@example.com",
	})
	if err != nil {
		t.Fatalf("SendLabReport: %v", err)
	}
	if sent.Status != StatusReportSent {
		t.Errorf("status = %s, want Report_Sent", sent.Status)
	}
	last := sent.DispatchLog[len(sent.DispatchLog)-1]
	if last.Event != "sent" || last.Method != "email" {
		t.Errorf("last dispatch entry = %+v, want sent via email", last)
	}
}

func TestSendLabReport_NoReport(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)

	_, err := f.svc.SendLabReport(context.Background(), f.technician, req.ID, SendReportInput{Method: "email"})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestSubmitReview_StatusMapping(t *testing.T) {
	tests := []struct {
		review string
		want   Status
	}{
		{ReviewApproved, StatusCompleted},
		{ReviewNeedsMoreTests, StatusNeedsAdditionalTests},
		{ReviewRejected, StatusReviewRejected},
	}
	for _, tt := range tests {
		t.Run(tt.review, func(t *testing.T) {
			f := newFixture(t)
			req := f.advanceToReport(t)

			reviewed, err := f.svc.SubmitReview(context.Background(), f.consultant, req.ID, ReviewInput{
				Status:   tt.review,
				Feedback: "reviewed",
			})
			if err != nil {
				t.Fatalf("SubmitReview: %v", err)
			}
			if reviewed.Status != tt.want {
				t.Errorf("status = %s, want %s", reviewed.Status, tt.want)
			}
			if reviewed.Review == nil || reviewed.Review.ReviewerID != f.consultant.UserID {
				t.Error("review record missing or wrong reviewer")
			}
		})
	}
}

func TestSubmitReview_RequiresReport(t *testing.T) {
	f := newFixture(t)
	req := f.createPaidRequest(t)

	_, err := f.svc.SubmitReview(context.Background(), f.consultant, req.ID, ReviewInput{
		Status:   ReviewRejected,
		Feedback: "incomplete",
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestSubmitReview_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	req := f.advanceToReport(t)

	_, err := f.svc.SubmitReview(context.Background(), f.consultant, req.ID, ReviewInput{
		Status:   "Maybe",
		Feedback: "unsure",
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("kind = %v, want validation", apperror.KindOf(err))
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	cancelled, err := f.svc.Cancel(context.Background(), f.doctor, req.ID, "ordered in error")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", cancelled.Status)
	}

	// Terminal states stay terminal for non-elevated callers.
	_, err = f.svc.Cancel(context.Background(), f.doctor, req.ID, "again")
	if !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("kind = %v, want invalid_state", apperror.KindOf(err))
	}
}

func TestAdminOverrideBypassesGraph(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	admin := auth.Caller{UserID: uuid.New(), Role: auth.RoleAdmin}

	// Scheduling straight from Billing_Pending is not a graph-legal move
	// and the bill is unpaid, but an admin may force it through.
	updated, err := f.svc.ScheduleSampleCollection(context.Background(), admin, req.ID, ScheduleCollectionInput{
		Date:        time.Now(),
		CollectorID: f.collectorID,
	})
	if err != nil {
		t.Fatalf("admin override: %v", err)
	}
	if updated.Status != StatusSampleCollectionScheduled {
		t.Errorf("status = %s, want Sample_Collection_Scheduled", updated.Status)
	}

	// The same move is rejected for a collector.
	req2 := f.createRequest(t)
	_, err = f.svc.ScheduleSampleCollection(context.Background(), f.collector, req2.ID, ScheduleCollectionInput{
		Date:        time.Now(),
		CollectorID: f.collectorID,
	})
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("kind = %v, want forbidden", apperror.KindOf(err))
	}
}

func TestGetAndList_CenterScope(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	outsider := auth.Caller{UserID: uuid.New(), Role: auth.RoleDoctor, CenterID: uuid.New()}
	_, err := f.svc.Get(context.Background(), outsider, req.ID)
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Errorf("kind = %v, want forbidden", apperror.KindOf(err))
	}

	items, total, err := f.svc.List(context.Background(), outsider, ListFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("outsider sees %d requests, want 0", total)
	}

	if _, total, _ = f.svc.List(context.Background(), f.consultant, ListFilter{}, 20, 0); total != 1 {
		t.Errorf("super consultant sees %d requests, want 1", total)
	}
}
