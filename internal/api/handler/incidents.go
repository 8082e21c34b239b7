// Package handler provides HTTP handlers for the RoadWatch API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roadwatch/roadwatch/internal/api/models"
	"github.com/roadwatch/roadwatch/internal/api/response"
	"github.com/roadwatch/roadwatch/internal/images"
	"github.com/roadwatch/roadwatch/internal/incident"
)

// IncidentsHandler handles the incident collection endpoints.
type IncidentsHandler struct {
	controller *incident.Controller
	images     *images.Cache
}

// NewIncidentsHandler creates a new IncidentsHandler.
func NewIncidentsHandler(controller *incident.Controller, imageCache *images.Cache) *IncidentsHandler {
	return &IncidentsHandler{
		controller: controller,
		images:     imageCache,
	}
}

// List handles GET /v1/incidents - the ordered collection with its state.
func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshot := h.controller.Snapshot()

	items := make([]models.IncidentResponse, 0, len(snapshot))
	for i := range snapshot {
		items = append(items, h.toResponse(&snapshot[i]))
	}

	list := models.IncidentListResponse{
		Incidents:  items,
		Count:      len(items),
		FetchState: string(h.controller.State()),
		SortPolicy: string(h.controller.Policy()),
		LastError:  h.controller.LastError(),
	}
	response.JSON(w, r, http.StatusOK, list)
}

// Load handles POST /v1/incidents/load - start the initial feed fetch.
// Returns 409 when a fetch is already running.
func (h *IncidentsHandler) Load(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.StartInitialLoad(); err != nil {
		if errors.Is(err, incident.ErrFetchInFlight) {
			response.Conflict(w, r, "a feed fetch is already in progress")
			return
		}
		response.InternalError(w, r, "could not start feed fetch")
		return
	}

	response.Accepted(w, r, "", models.FetchAccepted{
		FetchState: string(incident.FetchActive),
	})
}

// Refresh handles POST /v1/incidents/refresh - supersede any running fetch
// and start a new one.
func (h *IncidentsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.controller.Refresh()

	response.Accepted(w, r, "", models.FetchAccepted{
		FetchState: string(incident.FetchActive),
	})
}

// SetSortPolicy handles PUT /v1/incidents/sort-policy - change the display
// order of the collection.
func (h *IncidentsHandler) SetSortPolicy(w http.ResponseWriter, r *http.Request) {
	var input models.SortPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.controller.SetSortPolicy(incident.SortPolicy(input.Policy)); err != nil {
		response.BadRequest(w, r, "unknown sort policy", []models.FieldError{
			{Field: "policy", Message: "must be one of: by_date, by_location", Code: "invalid_enum"},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, models.SortPolicyResponse{
		Policy: string(h.controller.Policy()),
	})
}

// RequestImages handles POST /v1/incidents/images - request sign images for
// a set of incidents. Results arrive asynchronously as image_ready events.
func (h *IncidentsHandler) RequestImages(w http.ResponseWriter, r *http.Request) {
	var input models.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if len(input.IncidentIDs) == 0 {
		response.BadRequest(w, r, "incidentIds must not be empty", []models.FieldError{
			{Field: "incidentIds", Message: "at least one incident id is required", Code: "required"},
		})
		return
	}

	h.controller.RequestImages(input.IncidentIDs)
	response.Accepted(w, r, "", nil)
}

// GetImage handles GET /v1/incidents/{incidentId}/image - serve a cached
// sign image.
func (h *IncidentsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incidentId")
	if incidentID == "" {
		response.BadRequest(w, r, "incidentId is required", nil)
		return
	}

	img := h.images.Get(incidentID)
	if img == nil {
		response.NotFound(w, r, "no image cached for this incident")
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (h *IncidentsHandler) toResponse(inc *incident.Incident) models.IncidentResponse {
	out := models.IncidentResponse{
		ID:       inc.ID,
		Summary:  inc.Summary,
		ImageURL: inc.ImageURL,
		HasImage: h.images != nil && h.images.Has(inc.ID),
	}
	if !inc.Time.IsZero() {
		ts := models.Timestamp(inc.Time)
		out.Time = &ts
	}
	if inc.Location != nil {
		out.Location = &models.Point{Lat: inc.Location.Lat, Lon: inc.Location.Lon}
	}
	return out
}
