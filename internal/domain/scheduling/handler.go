package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/servicecenter/scheduler/internal/platform/auth"
	"github.com/servicecenter/scheduler/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the appointment API under api/appointments.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")

	g.POST("", h.Book, auth.RequireRole(auth.RoleCustomer))
	g.GET("", h.ListAll, auth.RequireRole(auth.RoleAdmin))
	g.GET("/available-slots/:date", h.AvailableSlots)
	g.GET("/user/:userId", h.ListByCustomer)
	g.GET("/:appointmentId", h.Get)

	staff := auth.RequireRole(auth.RoleTechnician)
	g.PATCH("/:appointmentId", h.Reschedule, staff)
	g.PATCH("/:appointmentId/status", h.SetStatus, staff)

	g.DELETE("/:appointmentId", h.Delete, auth.RequireRole(auth.RoleAdmin))
}

// httpError maps service errors onto status codes. Storage detail is logged
// and replaced with a generic message.
func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidSlot),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrMissingFields):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict, "time slot is already booked, choose another")
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("appointment request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("appointmentId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	return id, nil
}

// canView allows the owning customer, technicians and admins.
func canView(c echo.Context, customerID string) bool {
	ctx := c.Request().Context()
	return auth.UserIDFromContext(ctx) == customerID || auth.HasRole(ctx, auth.RoleTechnician)
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	req.CustomerID = auth.UserIDFromContext(ctx)
	req.ProfilePhone = auth.PhoneFromContext(ctx)

	a, err := h.svc.Book(ctx, req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":        "appointment booked",
		"appointment_id": a.ID,
		"appointment":    a,
	})
}

func (h *Handler) ListAll(c echo.Context) error {
	page := pagination.Parse(c)
	items, total, err := h.svc.ListAll(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return page.Respond(c, items, total)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	date := c.Param("date")
	slots, err := h.svc.AvailableSlots(c.Request().Context(), date)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":            date,
		"available_slots": slots,
	})
}

func (h *Handler) ListByCustomer(c echo.Context) error {
	customerID := c.Param("userId")
	if !canView(c, customerID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot view another customer's appointments")
	}
	items, err := h.svc.ListByCustomer(c.Request().Context(), customerID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	if !canView(c, a.CustomerID) {
		// Hide existence from other customers.
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Reschedule(c.Request().Context(), id, patch)
	if err != nil {
		return h.httpError(c, err)
	}
	msg := "appointment updated"
	if res.Moved() {
		msg = "appointment rescheduled"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     msg,
		"previous":    res.Previous,
		"current":     res.Current,
		"appointment": res.Appointment,
	})
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status_"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	change, err := h.svc.SetStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":           "appointment status updated",
		"previous_status":   change.PreviousStatus,
		"status_":           change.Status,
		"status_updated_at": change.StatusUpdatedAt,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "appointment deleted"})
}
