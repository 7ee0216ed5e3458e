package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/lawyer-scheduling/internal/availability"
)

const defaultSlotWindow = 7 * 24 * time.Hour

// requireSelf allows a lawyer to edit only their own schedule.
func requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return "", false
	}
	lawyerID := chi.URLParam(r, "id")
	if userID != lawyerID {
		writeError(w, http.StatusForbidden, "forbidden", "only the lawyer may change this schedule")
		return "", false
	}
	return lawyerID, true
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	weekly, err := h.availability.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weekly)
}

func (h *handlers) putAvailability(w http.ResponseWriter, r *http.Request) {
	lawyerID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var weekly availability.WeeklyAvailability
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&weekly); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	saved, err := h.availability.Set(r.Context(), lawyerID, weekly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *handlers) getAvailabilityCalendar(w http.ResponseWriter, r *http.Request) {
	loc := h.availability.Location()

	week := h.now().In(loc)
	if raw := r.URL.Query().Get("week"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "week must be YYYY-MM-DD")
			return
		}
		week = parsed
	}

	blocks, err := h.availability.Calendar(r.Context(), chi.URLParam(r, "id"), week)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []availability.CalendarBlock{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (h *handlers) putAvailabilityCalendar(w http.ResponseWriter, r *http.Request) {
	lawyerID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var blocks []availability.CalendarBlock
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&blocks); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	saved, err := h.availability.SaveCalendar(r.Context(), lawyerID, blocks)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// listSlots returns the instants a client can book: inside weekly hours,
// clear of external busy time and of the lawyer's committed appointments,
// and not in the past.
func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	lawyerID := chi.URLParam(r, "id")
	q := r.URL.Query()
	now := h.now()

	from, err := queryTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "from must be RFC3339")
		return
	}
	if from.IsZero() || from.Before(now) {
		from = now
	}

	to, err := queryTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "to must be RFC3339")
		return
	}
	if to.IsZero() {
		to = from.Add(defaultSlotWindow)
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "invalid_query", "from must be before to")
		return
	}

	granularity, err := queryInt(q.Get("granularity"), h.defaultGranularity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "granularity must be an integer")
		return
	}
	duration, err := queryInt(q.Get("duration"), h.defaultDuration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "duration must be an integer")
		return
	}

	instants, err := h.availability.BookableInstants(r.Context(), lawyerID, from, to, granularity, duration)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	free, err := h.appointments.FreeInstants(r.Context(), lawyerID, instants, duration)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slots := make([]time.Time, 0, len(free))
	for _, t := range free {
		if !t.Before(from) {
			slots = append(slots, t)
		}
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		LawyerID:    lawyerID,
		Timezone:    h.availability.Location().String(),
		Granularity: granularity,
		Duration:    duration,
		Slots:       slots,
	})
}

func (h *handlers) calendarConnectURL(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		writeError(w, http.StatusNotFound, "calendar_sync_disabled", "calendar sync is not configured")
		return
	}
	if _, ok := requireSelf(w, r); !ok {
		return
	}

	redirect := r.URL.Query().Get("redirect_url")
	if err := h.validate.Var(redirect, "required,url"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "redirect_url must be a URL")
		return
	}

	writeJSON(w, http.StatusOK, ConnectURLResponse{URL: h.calendar.AuthCodeURL(uuid.NewString(), redirect)})
}

func (h *handlers) connectCalendar(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		writeError(w, http.StatusNotFound, "calendar_sync_disabled", "calendar sync is not configured")
		return
	}
	lawyerID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var req ConnectCalendarRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.calendar.Connect(r.Context(), lawyerID, req.Code, req.RedirectURL); err != nil {
		writeError(w, http.StatusBadGateway, "calendar_connect_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
