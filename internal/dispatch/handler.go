package dispatch

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/ctxlog"
	"github.com/ianampudia11/mecom-sub003/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrCampaignNotFound, Status: http.StatusNotFound, Message: "campaign not found"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict, Message: "campaign status does not allow this action"},
}

// Handler handles operator HTTP requests for the dispatcher.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new dispatch handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers dispatcher operator routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dispatcher/status", h.GetStatus)

	r.Route("/companies/{companyID}/queue", func(r chi.Router) {
		r.Get("/stats", h.GetQueueStats)
		r.Delete("/failed", h.ClearFailed)
	})

	r.Route("/campaigns/{campaignID}", func(r chi.Router) {
		r.Post("/pause", h.PauseCampaign)
		r.Post("/resume", h.ResumeCampaign)
		r.Post("/cancel", h.CancelCampaign)
	})
}

// clearFailedParams are the query parameters of DELETE /companies/{companyID}/queue/failed.
type clearFailedParams struct {
	CompanyID     string `validate:"required"`
	OlderThanDays int    `validate:"min=0,max=3650"`
}

// GetStatus handles GET /dispatcher/status.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.service.Status())
}

// GetQueueStats handles GET /companies/{companyID}/queue/stats.
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	stats, err := h.service.QueueStats(r.Context(), companyID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// ClearFailed handles DELETE /companies/{companyID}/queue/failed.
func (h *Handler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	params := clearFailedParams{
		CompanyID:     chi.URLParam(r, "companyID"),
		OlderThanDays: 7,
	}
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "older_than_days must be an integer")
			return
		}
		params.OlderThanDays = days
	}

	if err := h.validator.Struct(params); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	retention := time.Duration(params.OlderThanDays) * 24 * time.Hour
	if params.OlderThanDays == 0 {
		// Zero clears every failed item.
		retention = time.Nanosecond
	}

	deleted, err := h.service.ClearFailed(r.Context(), params.CompanyID, retention)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("failed queue items cleared",
		"company_id", params.CompanyID,
		"older_than_days", params.OlderThanDays,
		"deleted", deleted,
	)
	httputil.Success(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// PauseCampaign handles POST /campaigns/{campaignID}/pause.
func (h *Handler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.Pause(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("campaign paused", "campaign_id", campaign.ID)
	httputil.Success(w, http.StatusOK, campaign)
}

// ResumeCampaign handles POST /campaigns/{campaignID}/resume.
func (h *Handler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.Resume(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("campaign resumed", "campaign_id", campaign.ID)
	httputil.Success(w, http.StatusOK, campaign)
}

// CancelCampaign handles POST /campaigns/{campaignID}/cancel.
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Cancel(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("campaign cancelled",
		"campaign_id", result.CampaignID,
		"cancelled_items", result.CancelledItems,
	)
	httputil.Success(w, http.StatusOK, result)
}
