package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/service"
)

type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string     `json:"name"`
		Subject     string     `json:"subject"`
		PreviewText string     `json:"preview_text"`
		Content     string     `json:"content"`
		TemplateID  *uuid.UUID `json:"template_id"`
		ListID      uuid.UUID  `json:"list_id"`
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.ListID == uuid.Nil {
		http.Error(w, "name and list_id are required", http.StatusBadRequest)
		return
	}

	c := &model.Campaign{
		Name:        body.Name,
		Subject:     body.Subject,
		PreviewText: body.PreviewText,
		Content:     body.Content,
		TemplateID:  body.TemplateID,
		ListID:      body.ListID,
		ScheduledAt: body.ScheduledAt,
	}
	if err := h.Service.CreateCampaign(c); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	campaigns, total, err := h.Service.Campaigns.List((page-1)*pageSize, pageSize, status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	json.NewEncoder(w).Encode(map[string]any{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.Service.Campaigns.GetByID(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rates, err := h.Service.Rates(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"campaign": c,
		"rates":    rates,
	})
}

// Send starts a queued dispatch.
func (h *CampaignHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	taskRef, err := h.Service.Start(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"campaign_id": id,
		"task_ref":    taskRef,
		"status":      model.StatusSending,
	})
}

// SendLive runs the dispatch synchronously and blocks until it ends.
func (h *CampaignHandler) SendLive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.Service.StartLive(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.Service.Progress(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

func (h *CampaignHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := h.Service.SendTest(id, body.Email); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"sent_to": body.Email})
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.Service.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelling"})
}

func (h *CampaignHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	snap, err := h.Service.Progress(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

func (h *CampaignHandler) campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *CampaignHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrAlreadySent):
		http.Error(w, "campaign already sent", http.StatusConflict)
	case errors.Is(err, apperrors.ErrNoRecipients):
		http.Error(w, "campaign has no active recipients", http.StatusUnprocessableEntity)
	case apperrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.Log.Error().Err(err).Msg("campaign request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
