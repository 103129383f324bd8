package endpoints

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_adbridge/internal/controller"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/internal/storage"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// ControllerLister lists live controllers
type ControllerLister interface {
	Controllers() ([]controller.Info, error)
}

// ControllerListResponse is the response for GET /admin/controllers
type ControllerListResponse struct {
	Controllers []controller.Info `json:"controllers"`
	Count       int               `json:"count"`
}

// NewControllersEndpoint implements GET /admin/controllers
func NewControllersEndpoint(lister ControllerLister) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		infos, err := lister.Controllers()
		if err != nil {
			logger.Log.Error().Err(err).Msg("Failed to list controllers")
			sendError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
		if infos == nil {
			infos = []controller.Info{}
		}
		sendJSON(w, http.StatusOK, ControllerListResponse{Controllers: infos, Count: len(infos)})
	}
}

// AdUnitStore is the catalogue surface the admin API needs
type AdUnitStore interface {
	List(ctx context.Context) ([]*storage.AdUnit, error)
	GetByUnitID(ctx context.Context, unitID string) (*storage.AdUnit, error)
	Create(ctx context.Context, u *storage.AdUnit) error
	Delete(ctx context.Context, unitID string) error
}

// AdUnitListResponse is the response for listing ad units
type AdUnitListResponse struct {
	AdUnits []*storage.AdUnit `json:"ad_units"`
	Count   int               `json:"count"`
}

// AdUnitAdminHandler manages the ad unit catalogue.
// Routes:
//
//	GET    /admin/adunits          - List all ad units
//	GET    /admin/adunits/:unitId  - Get one ad unit
//	POST   /admin/adunits          - Create an ad unit
//	DELETE /admin/adunits/:unitId  - Archive an ad unit
type AdUnitAdminHandler struct {
	store AdUnitStore
}

// NewAdUnitAdminHandler creates an ad unit admin handler. store may be nil
// when no database is configured.
func NewAdUnitAdminHandler(store AdUnitStore) *AdUnitAdminHandler {
	return &AdUnitAdminHandler{store: store}
}

func (h *AdUnitAdminHandler) available(w http.ResponseWriter) bool {
	if h.store == nil {
		sendError(w, http.StatusServiceUnavailable, "Database not available", "Ad unit management requires a database connection")
		return false
	}
	return true
}

// List handles GET /admin/adunits
func (h *AdUnitAdminHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !h.available(w) {
		return
	}
	units, err := h.store.List(r.Context())
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to list ad units")
		sendError(w, http.StatusInternalServerError, "Failed to list ad units", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, AdUnitListResponse{AdUnits: units, Count: len(units)})
}

// Get handles GET /admin/adunits/:unitId
func (h *AdUnitAdminHandler) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !h.available(w) {
		return
	}
	unitID := ps.ByName("unitId")
	u, err := h.store.GetByUnitID(r.Context(), unitID)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get ad unit", err.Error())
		return
	}
	if u == nil {
		sendError(w, http.StatusNotFound, "Ad unit not found", unitID)
		return
	}
	sendJSON(w, http.StatusOK, u)
}

// Create handles POST /admin/adunits
func (h *AdUnitAdminHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !h.available(w) {
		return
	}
	var u storage.AdUnit
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if u.UnitID == "" || u.TagID == "" {
		sendError(w, http.StatusBadRequest, "Missing fields", "unit_id and tag_id are required")
		return
	}
	if u.Format != "" && !knownFormat(u.Format) {
		sendError(w, http.StatusBadRequest, "Invalid format", string(u.Format))
		return
	}

	if err := h.store.Create(r.Context(), &u); err != nil {
		logger.Log.Error().Err(err).Str("unit_id", u.UnitID).Msg("Failed to create ad unit")
		sendError(w, http.StatusInternalServerError, "Failed to create ad unit", err.Error())
		return
	}
	logger.Log.Info().Str("unit_id", u.UnitID).Str("tag_id", u.TagID).Msg("Ad unit created")
	sendJSON(w, http.StatusCreated, &u)
}

// Delete handles DELETE /admin/adunits/:unitId
func (h *AdUnitAdminHandler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !h.available(w) {
		return
	}
	unitID := ps.ByName("unitId")
	if err := h.store.Delete(r.Context(), unitID); err != nil {
		sendError(w, http.StatusNotFound, "Failed to delete ad unit", err.Error())
		return
	}
	logger.Log.Info().Str("unit_id", unitID).Msg("Ad unit archived")
	w.WriteHeader(http.StatusNoContent)
}

func knownFormat(f sdk.Format) bool {
	switch f {
	case sdk.FormatNative, sdk.FormatBanner, sdk.FormatInterstitial, sdk.FormatRewarded, sdk.FormatAppOpen:
		return true
	}
	return false
}
