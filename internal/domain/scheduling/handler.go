package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/scheduler/internal/platform/auth"
	engine "github.com/ehr/scheduler/internal/platform/scheduling"
	"github.com/ehr/scheduler/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Availability and booking are open to patients using the public portal.
	booking := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar, auth.RolePatient))
	booking.GET("/appointments/available-slots", h.AvailableSlots)
	booking.POST("/appointments/validate", h.ValidateAppointment)
	booking.POST("/appointments", h.CreateAppointment)

	staff := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar))
	staff.GET("/appointments", h.ListAppointments)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.POST("/appointments/:id/cancel", h.CancelAppointment)
	staff.GET("/practitioners/:id/calendar-settings", h.GetCalendarSettings)
	staff.PUT("/practitioners/:id/calendar-settings", h.UpdateCalendarSettings)
}

// slotResponse is one entry of the availability list.
type slotResponse struct {
	Time                 string               `json:"time"`
	Label                string               `json:"label"`
	IsAvailable          bool                 `json:"isAvailable"`
	BlockingAppointments []AppointmentSummary `json:"blockingAppointments,omitempty"`
}

// rejectionResponse is the body of a refused booking.
type rejectionResponse struct {
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	Conflicts []AppointmentSummary `json:"conflicts,omitempty"`
}

type validationResponse struct {
	Accepted  bool                 `json:"accepted"`
	Error     string               `json:"error,omitempty"`
	Message   string               `json:"message"`
	Conflicts []AppointmentSummary `json:"conflicts,omitempty"`
}

func practitionerParam(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("practitionerId")
	if raw == "" {
		raw = c.QueryParam("practitioner_id")
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "practitionerId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid practitionerId")
	}
	return id, nil
}

// serviceError maps service failures onto HTTP errors. Rejections are not
// handled here; see writeRejection.
func serviceError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func rejectionStatus(kind engine.RejectionKind) int {
	if kind == engine.SchedulingConflict {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeRejection(c echo.Context, res engine.ValidationResult) error {
	return c.JSON(rejectionStatus(res.Kind), rejectionResponse{
		Error:     string(res.Kind),
		Message:   res.Message(),
		Conflicts: Summarize(res.Conflicts),
	})
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	practitionerID, err := practitionerParam(c)
	if err != nil {
		return err
	}
	dateParam := c.QueryParam("date")
	if dateParam == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	date, err := ParseDate(dateParam, h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	duration := 0
	if raw := c.QueryParam("duration"); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid duration")
		}
	}
	explain, _ := strconv.ParseBool(c.QueryParam("explain"))

	slots, err := h.svc.GetAvailableSlots(c.Request().Context(), practitionerID, date, duration)
	if err != nil {
		return serviceError(err)
	}
	out := make([]slotResponse, 0, len(slots))
	for _, sl := range slots {
		r := slotResponse{Time: sl.Time, Label: sl.Label, IsAvailable: sl.IsAvailable}
		if explain {
			r.BlockingAppointments = Summarize(sl.BlockingAppointments)
		}
		out = append(out, r)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ValidateAppointment(c echo.Context) error {
	var in BookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ValidateBooking(c.Request().Context(), in)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, validationResponse{
		Accepted:  res.Accepted,
		Error:     string(res.Kind),
		Message:   res.Message(),
		Conflicts: Summarize(res.Conflicts),
	})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var in BookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.BookAppointment(ctx, in, auth.UserIDFromContext(ctx))
	var rej *RejectionError
	if errors.As(err, &rej) {
		return writeRejection(c, rej.Result)
	}
	if err != nil {
		return serviceError(err)
	}
	c.Response().Header().Set("Location", "/api/v1/appointments/"+a.ID.String())
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	practitionerID, err := practitionerParam(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListAppointments(c.Request().Context(), practitionerID, pg.Limit, pg.Offset)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body cancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	a, err := h.svc.CancelAppointment(c.Request().Context(), id, body.Reason)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type settingsResponse struct {
	PractitionerID uuid.UUID `json:"practitionerId"`
	engine.CalendarSettings
}

func (h *Handler) GetCalendarSettings(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner id")
	}
	settings, err := h.svc.CalendarSettings(c.Request().Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, settingsResponse{PractitionerID: id, CalendarSettings: settings})
}

func (h *Handler) UpdateCalendarSettings(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner id")
	}
	ctx := c.Request().Context()
	if !auth.CanManageCalendar(ctx, id.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot change another practitioner's calendar")
	}
	var in SettingsInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	settings, err := h.svc.UpdateCalendarSettings(ctx, id, in)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, settingsResponse{PractitionerID: id, CalendarSettings: settings})
}
