package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/onnwee/swrcache/internal/apierr"
	"github.com/onnwee/swrcache/internal/engine"
)

// LifecycleResponse reports the environment state after an event.
type LifecycleResponse struct {
	Event            engine.Event        `json:"event"`
	Online           bool                `json:"online"`
	Visible          bool                `json:"visible"`
	SchedulerRunning bool                `json:"schedulerRunning"`
	Revalidation     *RevalidateResponse `json:"revalidation,omitempty"`
}

// LifecycleHandler feeds environment signals to the scheduler.
type LifecycleHandler struct {
	eng   *engine.Engine
	sched *engine.Scheduler
}

// NewLifecycleHandler creates a lifecycle handler.
func NewLifecycleHandler(eng *engine.Engine, sched *engine.Scheduler) *LifecycleHandler {
	return &LifecycleHandler{eng: eng, sched: sched}
}

// HandleEvent applies one of visible, hidden, focus, online or offline.
// POST /lifecycle/{event}
func (h *LifecycleHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := engine.ParseEvent(mux.Vars(r)["event"])
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("event", err.Error()))
		return
	}

	resp := LifecycleResponse{Event: ev}
	if rep := h.sched.HandleEvent(r.Context(), ev); rep != nil {
		rr := newRevalidateResponse(*rep)
		resp.Revalidation = &rr
	}
	lc := h.eng.Lifecycle()
	resp.Online = lc.Online()
	resp.Visible = lc.Visible()
	resp.SchedulerRunning = h.sched.Running()
	writeJSON(w, http.StatusOK, resp)
}
