// Package labrequest implements the lab test request workflow: the status
// state machine from order to report dispatch, the billing gate that holds
// lab work until the bill sees money, and the super-consultant review that
// closes a request out.
package labrequest

import (
	"time"

	"github.com/google/uuid"
)

// Status is a test request's position in the lab workflow.
type Status string

const (
	StatusPending                      Status = "Pending"
	StatusBillingPending               Status = "Billing_Pending"
	StatusBillingGenerated             Status = "Billing_Generated"
	StatusBillingPaid                  Status = "Billing_Paid"
	StatusSuperadminApproved           Status = "Superadmin_Approved"
	StatusAssigned                     Status = "Assigned"
	StatusSampleCollectionScheduled    Status = "Sample_Collection_Scheduled"
	StatusSampleCollectionDelayed      Status = "Sample_Collection_Delayed"
	StatusSampleCollectionRescheduled  Status = "Sample_Collection_Rescheduled"
	StatusSampleCollected              Status = "Sample_Collected"
	StatusSampleCollectionFailed       Status = "Sample_Collection_Failed"
	StatusInLabTesting                 Status = "In_Lab_Testing"
	StatusTestingDelayed               Status = "Testing_Delayed"
	StatusTestingCompleted             Status = "Testing_Completed"
	StatusReportGenerated              Status = "Report_Generated"
	StatusReportSent                   Status = "Report_Sent"
	StatusCompleted                    Status = "Completed"
	StatusCancelled                    Status = "Cancelled"
	StatusOnHold                       Status = "On_Hold"
	StatusNeedsAdditionalTests         Status = "Needs_Additional_Tests"
	StatusReviewRejected               Status = "Review_Rejected"
)

// allowedTransitions is the forward transition graph. Cancelled and On_Hold
// are reachable from every non-terminal state and are appended in init
// rather than repeated per entry.
var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusBillingPending},
	StatusBillingPending:  {StatusBillingGenerated, StatusBillingPaid},
	StatusBillingGenerated: {
		StatusBillingPaid, StatusSuperadminApproved, StatusAssigned, StatusSampleCollectionScheduled,
	},
	StatusBillingPaid: {
		StatusSuperadminApproved, StatusAssigned, StatusSampleCollectionScheduled,
	},
	StatusSuperadminApproved: {StatusAssigned, StatusSampleCollectionScheduled},
	StatusAssigned:           {StatusSampleCollectionScheduled},
	StatusSampleCollectionScheduled: {
		StatusSampleCollected, StatusSampleCollectionDelayed,
		StatusSampleCollectionRescheduled, StatusSampleCollectionFailed,
	},
	StatusSampleCollectionDelayed: {
		StatusSampleCollectionRescheduled, StatusSampleCollectionFailed,
	},
	StatusSampleCollectionRescheduled: {
		StatusSampleCollected, StatusSampleCollectionDelayed, StatusSampleCollectionFailed,
	},
	StatusSampleCollectionFailed: {StatusSampleCollectionRescheduled},
	StatusSampleCollected:        {StatusInLabTesting},
	StatusInLabTesting:           {StatusTestingCompleted, StatusTestingDelayed},
	StatusTestingDelayed:         {StatusInLabTesting, StatusTestingCompleted},
	StatusTestingCompleted:       {StatusReportGenerated},
	// Re-upload overwrites the report, so the state may re-enter itself.
	StatusReportGenerated: {
		StatusReportGenerated, StatusReportSent,
		StatusCompleted, StatusNeedsAdditionalTests, StatusReviewRejected,
	},
	StatusReportSent: {
		StatusCompleted, StatusNeedsAdditionalTests, StatusReviewRejected,
	},
	StatusOnHold: {},
}

var terminalStatuses = map[Status]bool{
	StatusCompleted:            true,
	StatusCancelled:            true,
	StatusNeedsAdditionalTests: true,
	StatusReviewRejected:       true,
}

func init() {
	for from := range allowedTransitions {
		if terminalStatuses[from] {
			continue
		}
		allowedTransitions[from] = append(allowedTransitions[from], StatusCancelled, StatusOnHold)
	}
}

// CanTransition reports whether the graph permits moving from one status to
// another. Administrative overrides are decided by the service, not here.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the workflow.
func IsTerminal(s Status) bool { return terminalStatuses[s] }

// Priority of a test request.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow: true, PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true,
}

// SampleCollection tracks the specimen pickup. The collector's display name
// is snapshotted at scheduling time so the record survives staff changes.
type SampleCollection struct {
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime string     `json:"scheduled_time,omitempty"`
	CollectorID   *uuid.UUID `json:"collector_id,omitempty"`
	CollectorName string     `json:"collector_name,omitempty"`
	CollectedAt   *time.Time `json:"collected_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// LabTesting tracks the bench work.
type LabTesting struct {
	TechnicianID *uuid.UUID `json:"technician_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Results      string     `json:"results,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// LabReport is the single report slot. Uploading again overwrites it; the
// dispatch log keeps the audit trail of prior generations.
type LabReport struct {
	BlobID      uuid.UUID `json:"blob_id"`
	FileName    string    `json:"file_name"`
	TestResults string    `json:"test_results,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	GeneratedBy uuid.UUID `json:"generated_by"`
}

// Review statuses a super consultant may return.
const (
	ReviewApproved        = "Approved"
	ReviewNeedsMoreTests  = "Needs_Additional_Tests"
	ReviewRejected        = "Rejected"
)

var validReviewStatuses = map[string]bool{
	ReviewApproved: true, ReviewNeedsMoreTests: true, ReviewRejected: true,
}

// Review is the super-consultant sign-off. Single slot, overwritten on
// resubmission while the request is still review-eligible.
type Review struct {
	ReviewerID      uuid.UUID `json:"reviewer_id"`
	ReviewedAt      time.Time `json:"reviewed_at"`
	Status          string    `json:"status"`
	Feedback        string    `json:"feedback"`
	AdditionalTests []string  `json:"additional_tests,omitempty"`
	Recommendations string    `json:"recommendations,omitempty"`
}

// DispatchLogEntry records a report generation or send event.
type DispatchLogEntry struct {
	Event     string    `json:"event"` // "generated" or "sent"
	Method    string    `json:"method,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	ActorID   uuid.UUID `json:"actor_id"`
	At        time.Time `json:"at"`
}

// TestRequest is the lab order aggregate.
type TestRequest struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	PatientID   uuid.UUID          `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	CenterID    uuid.UUID          `db:"center_id" json:"center_id"`
	TestTypes   []string           `db:"test_types" json:"test_types"`
	Priority    Priority           `db:"priority" json:"priority"`
	Status      Status             `db:"status" json:"status"`
	BillingID   *uuid.UUID         `db:"billing_id" json:"billing_id,omitempty"`
	Sample      *SampleCollection  `db:"sample_collection" json:"sample_collection,omitempty"`
	Testing     *LabTesting        `db:"lab_testing" json:"lab_testing,omitempty"`
	Report      *LabReport         `db:"lab_report" json:"lab_report,omitempty"`
	Review      *Review            `db:"review" json:"review,omitempty"`
	DispatchLog []DispatchLogEntry `db:"dispatch_log" json:"dispatch_log,omitempty"`
	Notes       string             `db:"notes" json:"notes,omitempty"`
	CreatedBy   uuid.UUID          `db:"created_by" json:"created_by"`
	UpdatedBy   uuid.UUID          `db:"updated_by" json:"updated_by"`
	IsActive    bool               `db:"is_active" json:"is_active"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// HasReport reports whether a lab report has been uploaded.
func (t *TestRequest) HasReport() bool {
	return t.Report != nil && t.Report.BlobID != uuid.Nil
}
