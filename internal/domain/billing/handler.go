package billing

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	billingStaff := auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleAccountant)

	write := api.Group("", billingStaff)
	write.POST("/billings", h.CreateBilling)
	write.PUT("/billings/:id/fees", h.UpdateFees)
	write.POST("/billings/:id/preview", h.GeneratePreview)
	write.POST("/billings/:id/preview/approve", h.ApprovePreview)
	write.POST("/billings/:id/payments", h.ProcessPayment)
	write.POST("/billings/:id/cancel", h.CancelBilling)
	write.DELETE("/billings/:id", h.SoftDelete)

	// Adjustments and refunds need more than front-desk access.
	sensitive := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleAccountant))
	sensitive.POST("/billings/:id/adjustments", h.AdjustPayment)
	sensitive.POST("/billings/:id/refund", h.ProcessRefund)

	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleAccountant, auth.RoleDoctor, auth.RoleSuperConsultant))
	read.GET("/billings", h.ListBillings)
	read.GET("/billings/stats", h.Stats)
	read.GET("/billings/:id", h.GetBilling)
	read.GET("/billings/:id/payments", h.ListPayments)
	read.GET("/billings/:id/stage-log", h.ListStageLog)
}

// feePayload accepts either a bare number or a structured fee object, the
// convenience the API has always offered. The core only ever sees FeeInput.
type feePayload struct {
	FeeInput
}

func (f *feePayload) UnmarshalJSON(data []byte) error {
	var amount decimal.Decimal
	if err := json.Unmarshal(data, &amount); err == nil {
		f.FeeInput = FeeInput{Amount: amount}
		return nil
	}
	var in FeeInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.FeeInput = in
	return nil
}

type createBillingRequest struct {
	Kind            Kind            `json:"kind" validate:"required"`
	PatientID       uuid.UUID       `json:"patient_id" validate:"required"`
	DoctorID        *uuid.UUID      `json:"doctor_id"`
	CenterID        uuid.UUID       `json:"center_id"`
	TestRequestID   *uuid.UUID      `json:"test_request_id"`
	RegistrationFee feePayload      `json:"registration_fee"`
	ConsultationFee feePayload      `json:"consultation_fee"`
	ServiceCharges  []ServiceCharge `json:"service_charges"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
}

func (h *Handler) CreateBilling(c echo.Context) error {
	var req createBillingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.CreateBilling(c.Request().Context(), caller, CreateBillingInput{
		Kind:            req.Kind,
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		CenterID:        req.CenterID,
		TestRequestID:   req.TestRequestID,
		RegistrationFee: req.RegistrationFee.FeeInput,
		ConsultationFee: req.ConsultationFee.FeeInput,
		ServiceCharges:  req.ServiceCharges,
		Discount:        req.Discount,
		Tax:             req.Tax,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBilling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.GetBilling(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBillings(c echo.Context) error {
	pg := pagination.FromContext(c)
	caller := auth.CallerFromContext(c.Request().Context())

	var f ListFilter
	f.Status = c.QueryParam("status")
	f.Kind = Kind(c.QueryParam("kind"))
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = pid
	}
	if v := c.QueryParam("center_id"); v != "" {
		cid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid center_id")
		}
		f.CenterID = cid
	}

	items, total, err := h.svc.ListBillings(c.Request().Context(), caller, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type updateFeesRequest struct {
	RegistrationFee feePayload      `json:"registration_fee"`
	ConsultationFee feePayload      `json:"consultation_fee"`
	ServiceCharges  []ServiceCharge `json:"service_charges"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
}

func (h *Handler) UpdateFees(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateFeesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.UpdateFees(c.Request().Context(), caller, id, FeeUpdateInput{
		RegistrationFee: req.RegistrationFee.FeeInput,
		ConsultationFee: req.ConsultationFee.FeeInput,
		ServiceCharges:  req.ServiceCharges,
		Discount:        req.Discount,
		Tax:             req.Tax,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

type generatePreviewRequest struct {
	ExpiresInHours int `json:"expires_in_hours" validate:"omitempty,gt=0"`
}

func (h *Handler) GeneratePreview(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req generatePreviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.GeneratePreviewInvoice(c.Request().Context(), caller, id, req.ExpiresInHours)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ApprovePreview(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.ApprovePreviewInvoice(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

type processPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required"`
	Note   string          `json:"note"`
}

type paymentResponse struct {
	Billing *Billing      `json:"billing"`
	Payment *PaymentEntry `json:"payment"`
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req processPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, entry, err := h.svc.ProcessPayment(c.Request().Context(), caller, id, req.Amount, req.Method, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paymentResponse{Billing: b, Payment: entry})
}

type adjustPaymentRequest struct {
	Type   AdjustmentType  `json:"type" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required"`
}

func (h *Handler) AdjustPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req adjustPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	result, err := h.svc.AdjustPayment(c.Request().Context(), caller, id, req.Type, req.Amount, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type cancelBillingRequest struct {
	Reason       string          `json:"reason" validate:"required"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

func (h *Handler) CancelBilling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelBillingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.CancelBilling(c.Request().Context(), caller, id, req.Reason, req.RefundAmount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

type refundRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
}

func (h *Handler) ProcessRefund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller := auth.CallerFromContext(c.Request().Context())
	b, err := h.svc.ProcessRefund(c.Request().Context(), caller, id, req.Amount, req.Method, req.Reason, req.Reference)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SoftDelete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.SoftDelete(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	items, err := h.svc.ListPayments(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PaymentEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListStageLog(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	items, err := h.svc.ListStageLog(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*StageLogEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Stats(c echo.Context) error {
	caller := auth.CallerFromContext(c.Request().Context())
	counts, err := h.svc.Stats(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}
