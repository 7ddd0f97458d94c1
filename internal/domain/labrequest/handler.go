package labrequest

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctors := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	doctors.POST("/test-requests", h.Create)

	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleReceptionist,
		auth.RoleAccountant, auth.RoleLabCollector, auth.RoleLabTechnician, auth.RoleSuperConsultant))
	read.GET("/test-requests", h.List)
	read.GET("/test-requests/:id", h.Get)

	collectors := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleLabCollector, auth.RoleReceptionist))
	collectors.POST("/test-requests/:id/sample/schedule", h.ScheduleCollection)
	collectors.POST("/test-requests/:id/sample/reschedule", h.RescheduleCollection)
	collectors.POST("/test-requests/:id/sample/delay", h.MarkCollectionDelayed)
	collectors.POST("/test-requests/:id/sample/collect", h.MarkSampleCollected)
	collectors.POST("/test-requests/:id/sample/fail", h.MarkCollectionFailed)

	technicians := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleLabTechnician))
	technicians.POST("/test-requests/:id/testing/start", h.StartTesting)
	technicians.POST("/test-requests/:id/testing/delay", h.MarkTestingDelayed)
	technicians.POST("/test-requests/:id/testing/complete", h.CompleteTesting)
	technicians.POST("/test-requests/:id/report", h.UploadReport)
	technicians.POST("/test-requests/:id/report/send", h.SendReport)

	reviewers := api.Group("", auth.RequireRole(auth.RoleSuperConsultant))
	reviewers.POST("/test-requests/:id/review", h.SubmitReview)

	admins := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	admins.POST("/test-requests/:id/cancel", h.Cancel)
	admins.POST("/test-requests/:id/hold", h.PutOnHold)
}

func requestID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createTestRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	CenterID  uuid.UUID `json:"center_id"`
	TestTypes []string  `json:"test_types" validate:"required,min=1"`
	Priority  Priority  `json:"priority"`
	Notes     string    `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createTestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.Create(c.Request().Context(), caller, CreateInput{
		PatientID: req.PatientID,
		CenterID:  req.CenterID,
		TestTypes: req.TestTypes,
		Priority:  req.Priority,
		Notes:     req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.Get(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	caller := auth.CallerFromContext(c.Request().Context())

	var f ListFilter
	f.Status = Status(c.QueryParam("status"))
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = pid
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		did, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = did
	}
	if v := c.QueryParam("center_id"); v != "" {
		cid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
		}
		f.CenterID = cid
	}

	items, total, err := h.svc.List(c.Request().Context(), caller, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type scheduleCollectionRequest struct {
	Date        time.Time `json:"date" validate:"required"`
	Time        string    `json:"time"`
	CollectorID uuid.UUID `json:"collector_id" validate:"required"`
	Notes       string    `json:"notes"`
}

func (h *Handler) ScheduleCollection(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req scheduleCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.ScheduleSampleCollection(c.Request().Context(), caller, id, ScheduleCollectionInput{
		Date:        req.Date,
		Time:        req.Time,
		CollectorID: req.CollectorID,
		Notes:       req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type rescheduleCollectionRequest struct {
	Date        time.Time `json:"date" validate:"required"`
	Time        string    `json:"time"`
	CollectorID uuid.UUID `json:"collector_id"`
	Notes       string    `json:"notes"`
}

func (h *Handler) RescheduleCollection(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req rescheduleCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.RescheduleSampleCollection(c.Request().Context(), caller, id, ScheduleCollectionInput{
		Date:        req.Date,
		Time:        req.Time,
		CollectorID: req.CollectorID,
		Notes:       req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) MarkCollectionDelayed(c echo.Context) error {
	return h.reasonAction(c, h.svc.MarkCollectionDelayed)
}

func (h *Handler) MarkCollectionFailed(c echo.Context) error {
	return h.reasonAction(c, h.svc.MarkCollectionFailed)
}

func (h *Handler) MarkTestingDelayed(c echo.Context) error {
	return h.reasonAction(c, h.svc.MarkTestingDelayed)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.reasonAction(c, h.svc.Cancel)
}

func (h *Handler) PutOnHold(c echo.Context) error {
	return h.reasonAction(c, h.svc.PutOnHold)
}

func (h *Handler) reasonAction(c echo.Context, fn func(ctx context.Context, caller auth.Caller, id uuid.UUID, reason string) (*TestRequest, error)) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := fn(c.Request().Context(), caller, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type collectRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) MarkSampleCollected(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req collectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.MarkSampleCollected(c.Request().Context(), caller, id, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type startTestingRequest struct {
	TechnicianID uuid.UUID `json:"technician_id" validate:"required"`
	Notes        string    `json:"notes"`
}

func (h *Handler) StartTesting(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req startTestingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.StartTesting(c.Request().Context(), caller, id, req.TechnicianID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type completeTestingRequest struct {
	Results string `json:"results" validate:"required"`
	Notes   string `json:"notes"`
}

func (h *Handler) CompleteTesting(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req completeTestingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.CompleteTesting(c.Request().Context(), caller, id, req.Results, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type uploadReportRequest struct {
	BlobID      uuid.UUID `json:"blob_id" validate:"required"`
	FileName    string    `json:"file_name"`
	TestResults string    `json:"test_results"`
	Notes       string    `json:"notes"`
}

func (h *Handler) UploadReport(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req uploadReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.UploadLabReport(c.Request().Context(), caller, id, UploadReportInput{
		BlobID:      req.BlobID,
		FileName:    req.FileName,
		TestResults: req.TestResults,
		Notes:       req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type sendReportRequest struct {
	Method    string `json:"method" validate:"required"`
	Recipient string `json:"recipient"`
	Notes     string `json:"notes"`
}

func (h *Handler) SendReport(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req sendReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.SendLabReport(c.Request().Context(), caller, id, SendReportInput{
		Method:    req.Method,
		Recipient: req.Recipient,
		Notes:     req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

type submitReviewRequest struct {
	Status          string   `json:"status" validate:"required"`
	Feedback        string   `json:"feedback" validate:"required"`
	AdditionalTests []string `json:"additional_tests"`
	Recommendations string   `json:"recommendations"`
}

func (h *Handler) SubmitReview(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req submitReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	t, err := h.svc.SubmitReview(c.Request().Context(), caller, id, ReviewInput{
		Status:          req.Status,
		Feedback:        req.Feedback,
		AdditionalTests: req.AdditionalTests,
		Recommendations: req.Recommendations,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}
