package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/session"
	"finvue/internal/storage"

	"github.com/go-chi/chi/v5"
)

type recordResponse struct {
	Year   int            `json:"year"`
	Record core.Record    `json:"record"`
	Status session.Status `json:"status"`
}

// openSession loads the user's session and answers 503 when the record
// cannot be read.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.deps.Sessions.Open(r.Context(), userID(r))
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to open session",
			log.FieldOperation, log.OpLoad, log.FieldError, err)
		writeError(w, r, http.StatusServiceUnavailable, "Não foi possível carregar seus dados. Tente novamente.")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Year:   sess.Year(),
		Record: sess.Record(),
		Status: sess.Status(),
	})
}

type monthValueRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleSetMonthValue applies one cell edit. The save happens in the
// background after the debounce window.
func (s *Server) handleSetMonthValue(w http.ResponseWriter, r *http.Request) {
	field, err := core.ParseField(chi.URLParam(r, "category"), chi.URLParam(r, "field"))
	if err != nil {
		writeFieldError(w, r, http.StatusBadRequest, "Campo desconhecido.", "field")
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || core.ValidateMonth(month) != nil {
		writeFieldError(w, r, http.StatusBadRequest, "Mês inválido.", "month")
		return
	}

	var req monthValueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	value, err := parseAmountValue(req.Value)
	if err != nil {
		writeFieldError(w, r, http.StatusUnprocessableEntity, "Informe um valor numérico.", "value")
		return
	}

	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	rec, err := sess.SetMonthValue(field, month, value)
	if errors.Is(err, session.ErrClosed) {
		// A logout released the session between Open and the edit.
		if sess, ok = s.openSession(w, r); !ok {
			return
		}
		rec, err = sess.SetMonthValue(field, month, value)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	log.FromContext(r.Context()).DebugContext(r.Context(), "Month value updated",
		log.FieldField, field.String(), log.FieldMonth, month)
	writeJSON(w, http.StatusOK, recordResponse{Year: sess.Year(), Record: rec, Status: sess.Status()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r.URL.Query().Get("month"), s.currentMonth())
	if err != nil {
		writeFieldError(w, r, http.StatusBadRequest, "Mês inválido.", "month")
		return
	}
	period, err := parsePeriodParams(r)
	if err != nil {
		writeFieldError(w, r, http.StatusBadRequest, "Período inválido.", "period")
		return
	}

	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	agg, err := sess.Aggregates(month, period)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type periodsResponse struct {
	Presets      []core.PeriodPreset `json:"presets"`
	CurrentMonth int                 `json:"currentMonth"`
	Months       []string            `json:"months"`
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	months := make([]string, core.MonthsPerYear)
	for m := range months {
		months[m] = core.MonthName(m)
	}
	writeJSON(w, http.StatusOK, periodsResponse{
		Presets:      core.Presets(),
		CurrentMonth: s.currentMonth(),
		Months:       months,
	})
}

func (s *Server) handleSaveStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleRetrySave clears a setup-required block and saves immediately. The
// response carries the resulting status either way.
func (s *Server) handleRetrySave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}

	err := sess.Retry(r.Context())
	st := sess.Status()
	logger := log.FromContext(r.Context())
	switch {
	case err == nil:
		logger.InfoContext(r.Context(), "Manual save succeeded", log.FieldVersion, st.SavedVersion)
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, storage.ErrSetupRequired):
		logger.WarnContext(r.Context(), "Manual save blocked, storage setup required",
			log.FieldState, st.State.String())
		writeJSON(w, http.StatusConflict, st)
	default:
		logger.ErrorContext(r.Context(), "Manual save failed", log.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, st)
	}
}
