package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kengash.org/internal/audit"
	"kengash.org/internal/engagement"
	"kengash.org/internal/obs"
	"kengash.org/internal/stream"
)

type statusChangeRequest struct {
	Status      string `json:"status"`
	AdminReason string `json:"adminReason"`
}

func (a *API) handleEngagementsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listEngagements(w, r)
	case http.MethodPost:
		a.createEngagement(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEngagementResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/engagements/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/status") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/status"), "/")
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "engagement not found")
			return
		}
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.changeEngagementStatus(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getEngagement(w, r, path)
	case http.MethodPatch:
		a.updateEngagement(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) createEngagement(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var in engagement.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	e, err := a.engagements.Create(r.Context(), in, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "engagement.create", map[string]any{
		"engagement_id": e.ID,
		"reference_no":  e.ReferenceNo,
		"commissioner":  e.CommissionerID,
	})

	w.Header().Set("Location", "/v1/engagements/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) listEngagements(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	items, err := a.engagements.List(r.Context(), actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}
	if items == nil {
		items = []engagement.Engagement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getEngagement(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	e, err := a.engagements.Get(r.Context(), id, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) updateEngagement(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var patch engagement.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	e, err := a.engagements.UpdateFields(r.Context(), id, patch, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "engagement.update", map[string]any{
		"engagement_id": e.ID,
		"reference_no":  e.ReferenceNo,
	})

	writeJSON(w, http.StatusOK, e)
}

func (a *API) changeEngagementStatus(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req statusChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target, err := engagement.ParseStatus(req.Status)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}

	before, err := a.engagements.Get(r.Context(), id, actor)
	if err != nil {
		obs.ObserveTransition(string(target), transitionOutcome(err))
		handleEngagementError(w, r, err)
		return
	}

	e, err := a.engagements.UpdateStatus(r.Context(), id, target, actor, req.AdminReason)
	if err != nil {
		obs.ObserveTransition(string(target), transitionOutcome(err))
		handleEngagementError(w, r, err)
		return
	}

	if before.Status == e.Status {
		obs.ObserveTransition(string(target), "noop")
		writeJSON(w, http.StatusOK, e)
		return
	}
	obs.ObserveTransition(string(target), "changed")

	if a.stream != nil {
		a.stream.Publish(stream.StatusEvent{
			EngagementID: e.ID,
			ReferenceNo:  e.ReferenceNo,
			OldStatus:    string(before.Status),
			NewStatus:    string(e.Status),
			ActorID:      actor.ID,
			Timestamp:    time.Now().UTC(),
		})
	}

	fields := map[string]any{
		"engagement_id": e.ID,
		"reference_no":  e.ReferenceNo,
		"old_status":    string(before.Status),
		"new_status":    string(e.Status),
	}
	if strings.TrimSpace(req.AdminReason) != "" {
		fields["admin_reason"] = strings.TrimSpace(req.AdminReason)
	}
	_ = audit.LogEvent(r.Context(), "engagement.status.change", fields)

	writeJSON(w, http.StatusOK, e)
}

// transitionOutcome buckets workflow errors for the transitions metric.
func transitionOutcome(err error) string {
	if errors.Is(err, engagement.ErrSchedulingConflict) || errors.Is(err, engagement.ErrVersionConflict) {
		return "conflict"
	}
	return "denied"
}

// --- availability ---

func (a *API) handleAvailabilityCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listSlots(w, r)
	case http.MethodPost:
		a.createSlot(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAvailabilityResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/availability/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		a.updateSlot(w, r, id)
	case http.MethodDelete:
		a.deleteSlot(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var in engagement.SlotInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	slot, err := a.engagements.CreateSlot(r.Context(), in, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "availability.slot.create", map[string]any{
		"slot_id":      slot.ID,
		"commissioner": slot.CommissionerID,
	})

	w.Header().Set("Location", "/v1/availability/"+slot.ID)
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) listSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	commissionerID := strings.TrimSpace(r.URL.Query().Get("commissionerId"))
	slots, err := a.engagements.ListSlots(r.Context(), commissionerID, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}
	if slots == nil {
		slots = []engagement.AvailabilitySlot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": slots})
}

func (a *API) updateSlot(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var patch engagement.SlotPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	slot, err := a.engagements.UpdateSlot(r.Context(), id, patch, actor)
	if err != nil {
		handleEngagementError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "availability.slot.update", map[string]any{
		"slot_id":      slot.ID,
		"commissioner": slot.CommissionerID,
	})

	writeJSON(w, http.StatusOK, slot)
}

func (a *API) deleteSlot(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if err := a.engagements.DeleteSlot(r.Context(), id, actor); err != nil {
		handleEngagementError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "availability.slot.delete", map[string]any{
		"slot_id": id,
	})

	w.WriteHeader(http.StatusNoContent)
}
