package directory

import (
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
	patients := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDoctor))
	patients.POST("/patients", h.CreatePatient)
	patients.GET("/patients", h.ListPatients)
	patients.GET("/patients/:id", h.GetPatient)
	patients.PUT("/patients/:id", h.UpdatePatient)
	patients.DELETE("/patients/:id", h.DeactivatePatient)

	api.POST("/centers", h.CreateCenter, auth.RequireRole())
	api.GET("/centers", h.ListCenters)
	api.GET("/centers/:id", h.GetCenter)

	staff := api.Group("", auth.RequireRole(auth.RoleAdmin))
	staff.POST("/staff", h.CreateStaff)
	staff.DELETE("/staff/:id", h.DeactivateStaff)
	api.GET("/staff", h.ListStaff, auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	api.GET("/staff/:id", h.GetStaff)
}

type createPatientRequest struct {
	FirstName   string     `json:"first_name" validate:"required"`
	LastName    string     `json:"last_name"`
	Phone       string     `json:"phone" validate:"required"`
	Email       *string    `json:"email" validate:"omitempty,email"`
	Gender      *string    `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Address     *string    `json:"address"`
	CenterID    uuid.UUID  `json:"center_id"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Patient{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		Email:       req.Email,
		Gender:      req.Gender,
		DateOfBirth: req.DateOfBirth,
		Address:     req.Address,
		CenterID:    req.CenterID,
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.CreatePatient(c.Request().Context(), caller, p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.FindPatientByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	caller := auth.CallerFromContext(c.Request().Context())
	items, total, err := h.svc.ListPatients(c.Request().Context(), caller, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Patient{
		ID:          id,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		Email:       req.Email,
		Gender:      req.Gender,
		DateOfBirth: req.DateOfBirth,
		Address:     req.Address,
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.UpdatePatient(c.Request().Context(), caller, p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.DeactivatePatient(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeactivateStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.DeactivateStaff(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type createCenterRequest struct {
	Name    string  `json:"name" validate:"required"`
	Code    string  `json:"code" validate:"required"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

func (h *Handler) CreateCenter(c echo.Context) error {
	var req createCenterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	center := &Center{Name: req.Name, Code: req.Code, Address: req.Address, Phone: req.Phone}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.CreateCenter(c.Request().Context(), caller, center); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, center)
}

func (h *Handler) GetCenter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	center, err := h.svc.FindCenterByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) ListCenters(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCenters(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type createStaffRequest struct {
	FirstName string    `json:"first_name" validate:"required"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role" validate:"required"`
	CenterID  uuid.UUID `json:"center_id" validate:"required"`
	Phone     *string   `json:"phone"`
	Email     *string   `json:"email" validate:"omitempty,email"`
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var req createStaffRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st := &Staff{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		CenterID:  req.CenterID,
		Phone:     req.Phone,
		Email:     req.Email,
	}
	caller := auth.CallerFromContext(c.Request().Context())
	if err := h.svc.CreateStaff(c.Request().Context(), caller, st); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.FindStaffByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	caller := auth.CallerFromContext(c.Request().Context())
	items, total, err := h.svc.ListStaff(c.Request().Context(), caller, c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
