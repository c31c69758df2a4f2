package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldassign/libs/httpx"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/assignment"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/availability"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

type Coordinator interface {
	Assign(ctx context.Context, order model.Order, providerID string, at *time.Time) (assignment.Result, error)
	AutoAssign(ctx context.Context, order model.Order) (assignment.Result, error)
	Reassign(ctx context.Context, order model.Order, providerID *string) (assignment.Result, error)
}

type Matcher interface {
	FindProvider(ctx context.Context, req model.Requirement) (*model.Provider, error)
}

type AssignmentHandler struct {
	coord   Coordinator
	matcher Matcher
	dir     storage.Directory
	planner availability.Planner
	loc     *time.Location
	logger  *slog.Logger
}

func NewAssignmentHandler(coord Coordinator, matcher Matcher, dir storage.Directory, planner availability.Planner, loc *time.Location, logger *slog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		coord:   coord,
		matcher: matcher,
		dir:     dir,
		planner: planner,
		loc:     loc,
		logger:  logger,
	}
}

// Register mounts the API on mux. guard, when non-nil, wraps the endpoints that write;
// match and slots stay open for read-only clients.
func (h *AssignmentHandler) Register(mux *http.ServeMux, guard httpx.Middleware) {
	write := func(fn http.HandlerFunc) http.Handler {
		if guard == nil {
			return fn
		}
		return guard(fn)
	}
	mux.Handle("/api/v1/assignments/auto", write(h.AutoAssign))
	mux.Handle("/api/v1/assignments", write(h.Assign))
	mux.Handle("/api/v1/assignments/reassign", write(h.Reassign))
	mux.HandleFunc("/api/v1/providers/match", h.Match)
	mux.HandleFunc("/api/v1/providers/slots", h.Slots)
}

type assignRequest struct {
	Order      model.Order `json:"order"`
	ProviderID string      `json:"provider_id"`
	StartTime  string      `json:"start_time"`
}

type reassignRequest struct {
	Order      model.Order `json:"order"`
	ProviderID *string     `json:"provider_id"`
}

type bookingItem struct {
	BookingID string `json:"booking_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	TimeSlot  string `json:"time_slot"`
	Status    string `json:"status"`
}

type assignmentResponse struct {
	ProviderID *string      `json:"provider_id"`
	BookingID  *string      `json:"booking_id"`
	Reason     string       `json:"reason"`
	Booking    *bookingItem `json:"booking,omitempty"`
}

type matchResponse struct {
	ProviderID *string  `json:"provider_id"`
	AreaID     string   `json:"area_id,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	Load       *int     `json:"current_daily_orders,omitempty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Label     string `json:"label"`
}

func (h *AssignmentHandler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var order model.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.coord.AutoAssign(r.Context(), order)
	if err != nil {
		h.fail(w, r, "auto assign failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(res))
}

func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" || strings.TrimSpace(req.Order.ID) == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	// An explicit start_time wins over the order's preferred date and time.
	var at *time.Time
	if raw := strings.TrimSpace(req.StartTime); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		at = &t
	} else {
		t, err := req.Order.PreferredAt(h.loc)
		if err != nil {
			http.Error(w, "invalid preferred service date/time", http.StatusBadRequest)
			return
		}
		at = t
	}

	res, err := h.coord.Assign(r.Context(), req.Order, req.ProviderID, at)
	if err != nil {
		h.fail(w, r, "assign failed", err)
		return
	}
	httpx.WriteJSON(w, statusFor(res.Reason), toResponse(res))
}

func (h *AssignmentHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ProviderID != nil && strings.TrimSpace(*req.ProviderID) == "" {
		req.ProviderID = nil
	}

	res, err := h.coord.Reassign(r.Context(), req.Order, req.ProviderID)
	if err != nil {
		h.fail(w, r, "reassign failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(res))
}

// Match previews which provider auto assignment would pick, without writing anything.
func (h *AssignmentHandler) Match(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var order model.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req, err := order.Requirement(h.loc)
	if err != nil {
		httpx.WriteJSON(w, http.StatusOK, matchResponse{})
		return
	}
	p, err := h.matcher.FindProvider(r.Context(), req)
	if err != nil {
		h.fail(w, r, "match failed", err)
		return
	}
	if p == nil {
		httpx.WriteJSON(w, http.StatusOK, matchResponse{})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, matchResponse{
		ProviderID: &p.ID,
		AreaID:     p.AreaID,
		Rating:     &p.Rating,
		Load:       &p.CurrentDailyOrders,
	})
}

func (h *AssignmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || dateStr == "" {
		http.Error(w, "missing provider_id or date", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation(model.DateLayout, dateStr, h.loc)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	p, err := h.dir.Provider(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, "provider lookup failed", err)
		return
	}
	bookings, err := h.dir.ActiveBookings(ctx, providerID, day)
	if err != nil {
		h.fail(w, r, "booking lookup failed", err)
		return
	}

	slots := h.planner.GenerateSlots(p, day, bookings)
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Label:     string(s.Label),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"date":        dateStr,
		"slots":       items,
	})
}

func (h *AssignmentHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
	http.Error(w, msg, http.StatusInternalServerError)
}

func statusFor(reason assignment.Reason) int {
	switch reason {
	case assignment.ReasonNotFound:
		return http.StatusNotFound
	case assignment.ReasonInvalidInput:
		return http.StatusBadRequest
	case assignment.ReasonConflict:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func toResponse(res assignment.Result) assignmentResponse {
	out := assignmentResponse{Reason: string(res.Reason)}
	if res.ProviderID != "" {
		id := res.ProviderID
		out.ProviderID = &id
	}
	if res.BookingID != "" {
		id := res.BookingID
		out.BookingID = &id
	}
	if b := res.Booking; b != nil {
		out.Booking = &bookingItem{
			BookingID: b.ID,
			StartTime: b.StartTime.Format(time.RFC3339),
			EndTime:   b.EndTime.Format(time.RFC3339),
			TimeSlot:  string(b.TimeSlot),
			Status:    string(b.Status),
		}
	}
	return out
}
