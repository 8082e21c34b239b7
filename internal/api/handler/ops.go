package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/roadwatch/roadwatch/internal/api/models"
	"github.com/roadwatch/roadwatch/internal/api/response"
	"github.com/roadwatch/roadwatch/internal/images"
	"github.com/roadwatch/roadwatch/internal/incident"
	"github.com/roadwatch/roadwatch/internal/location"
	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version    string
	buildTime  string
	controller *incident.Controller
	images     *images.Cache
	locations  *location.Service
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version, buildTime string, controller *incident.Controller, imageCache *images.Cache, locations *location.Service) *OpsHandler {
	return &OpsHandler{
		version:    version,
		buildTime:  buildTime,
		controller: controller,
		images:     imageCache,
		locations:  locations,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. The service is
// ready as soon as the controller exists; an empty collection is a valid
// serving state.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := models.Timestamp(time.Now())

	overall := models.HealthStatusOK
	providers := make([]models.ProviderStatus, 0)
	for _, ph := range resilience.GlobalRegistry.GetAllHealth() {
		status := providerStatus(ph)
		if status == models.HealthStatusFail {
			overall = models.HealthStatusDegraded
		}

		p := models.ProviderStatus{
			Provider: ph.Name,
			Status:   status,
		}
		if ph.LastSuccessAt != nil {
			ts := models.Timestamp(*ph.LastSuccessAt)
			p.LastSuccessAt = &ts
		}
		if ph.LastFailureAt != nil {
			ts := models.Timestamp(*ph.LastFailureAt)
			p.LastFailureAt = &ts
		}
		if ph.LastError != "" {
			msg := ph.LastError
			p.Message = &msg
		}
		providers = append(providers, p)
	}

	subsystems := []models.SubsystemStatus{
		h.controllerStatus(),
		h.imageCacheStatus(),
		h.locationStatus(),
	}

	status := models.SystemStatus{
		Status:     overall,
		Time:       now,
		Subsystems: subsystems,
		Providers:  providers,
	}
	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case ph.IsUnhealthy():
		return models.HealthStatusFail
	case ph.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func (h *OpsHandler) controllerStatus() models.SubsystemStatus {
	s := models.SubsystemStatus{
		Name:   "incident-controller",
		Status: models.HealthStatusOK,
	}
	detail := fmt.Sprintf("state=%s policy=%s incidents=%d",
		h.controller.State(), h.controller.Policy(), len(h.controller.Snapshot()))
	if lastErr := h.controller.LastError(); lastErr != "" {
		s.Status = models.HealthStatusDegraded
		detail += " lastError=" + lastErr
	}
	s.Detail = &detail
	return s
}

func (h *OpsHandler) imageCacheStatus() models.SubsystemStatus {
	detail := fmt.Sprintf("cached=%d", h.images.Len())
	return models.SubsystemStatus{
		Name:   "image-cache",
		Status: models.HealthStatusOK,
		Detail: &detail,
	}
}

func (h *OpsHandler) locationStatus() models.SubsystemStatus {
	s := models.SubsystemStatus{
		Name:   "location",
		Status: models.HealthStatusOK,
	}
	auth := string(h.locations.Authorization())
	if h.locations.Authorization() == location.AuthorizationDenied {
		s.Status = models.HealthStatusDegraded
	}
	detail := "authorization=" + auth
	s.Detail = &detail
	return s
}
