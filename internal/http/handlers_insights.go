package http

import (
	"errors"
	"net/http"
	"strings"

	"finvue/internal/advisor"
	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/market"
	"finvue/internal/storage"
)

type adviceRequest struct {
	Month *int `json:"month"`
}

// handleAdvice returns one sentence about a month of the current record.
// The body is optional and defaults to the running month.
func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	month := s.currentMonth()
	if req.Month != nil {
		month = *req.Month
	}

	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	agg, err := sess.Aggregates(month, core.FullYear)
	if err != nil {
		writeFieldError(w, r, http.StatusBadRequest, "Mês inválido.", "month")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Advisor.Advice(r.Context(), userID(r), sess.Record(), agg, month))
}

type outlookResponse struct {
	Outlook *advisor.Outlook `json:"outlook"`
	News    market.News      `json:"news"`
}

// handleOutlook reads the latest headlines and asks for a market outlook.
// Outlook is null when the model failed; the headlines are returned anyway.
func (s *Server) handleOutlook(w http.ResponseWriter, r *http.Request) {
	news := s.deps.Market.News(r.Context())
	outlook := s.deps.Advisor.MarketOutlook(r.Context(), userID(r), news.Headlines())
	if outlook == nil {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Market outlook unavailable",
			log.FieldKind, "outlook")
	}
	writeJSON(w, http.StatusOK, outlookResponse{Outlook: outlook, News: news})
}

type chatRequest struct {
	Message string            `json:"message"`
	History []advisor.Message `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	message := sanitizeInput(req.Message)
	if message == "" {
		writeFieldError(w, r, http.StatusUnprocessableEntity, "Escreva uma mensagem.", "message")
		return
	}

	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Advisor.Chat(r.Context(), userID(r), message, sess.Record(), req.History))
}

type visionRequest struct {
	Outlook advisor.Outlook `json:"outlook"`
}

// handleVision renders a wealth vision image for an outlook the client
// received earlier and stores it as a generated asset.
func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	req.Outlook.Explanation = strings.TrimSpace(req.Outlook.Explanation)
	if !req.Outlook.Valid() {
		writeFieldError(w, r, http.StatusUnprocessableEntity, "Gere uma análise de mercado antes da visão.", "outlook")
		return
	}

	asset, err := s.deps.Advisor.WealthVision(r.Context(), userID(r), req.Outlook)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Wealth vision failed",
			log.FieldOperation, log.OpGenerate, log.FieldError, err)
		writeError(w, r, http.StatusBadGateway, "Não foi possível gerar a imagem agora.")
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.deps.Advisor.Assets(r.Context(), userID(r))
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to list assets",
			log.FieldOperation, log.OpList, log.FieldError, err)
		writeError(w, r, http.StatusServiceUnavailable, "Não foi possível carregar suas imagens.")
		return
	}
	if assets == nil {
		assets = []storage.Asset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Market.Snapshot(r.Context()))
}
