package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/preview"
)

var errPreviewDisabled = model.NewError(model.KindUpstream, "live preview is not configured")

type previewPushResponse struct {
	Sent   bool   `json:"sent"`
	Marker string `json:"marker"`
	Seq    uint64 `json:"seq,omitempty"`
}

func (a *apiServer) pushPreview(w http.ResponseWriter, r *http.Request) {
	if a.preview == nil {
		writeError(w, errPreviewDisabled)
		return
	}
	var input model.PreviewRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	ownerID := ownerIDFromContext(r.Context())
	if input.Plan == "" {
		owner, err := a.backend.GetOwner(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		input.Plan = owner.Plan
	}

	msg, sent, err := a.preview.Broadcast(r.Context(), ownerID, input.Form, input.Plan)
	if err != nil {
		writeError(w, model.WrapError(err, model.KindValidation, "unable to serialise preview snapshot"))
		return
	}
	writeSuccess(w, http.StatusOK, previewPushResponse{Sent: sent, Marker: msg.Marker, Seq: msg.Seq}, "")
}

func (a *apiServer) pingPreview(w http.ResponseWriter, r *http.Request) {
	if a.preview == nil {
		writeError(w, errPreviewDisabled)
		return
	}
	a.preview.Ping(r.Context(), ownerIDFromContext(r.Context()))
	writeSuccess(w, http.StatusOK, nil, "")
}

// bootstrapState is the state a newly connected surface starts from.
func (a *apiServer) bootstrapState(r *http.Request, ownerID uint) (preview.State, error) {
	owner, err := a.backend.GetOwner(r.Context(), ownerID)
	if err != nil {
		return preview.State{}, err
	}

	var cached *preview.Message
	if cache := a.preview.Cache(); cache != nil {
		msg, ok, err := cache.Get(r.Context(), ownerID)
		if err != nil {
			a.log.WithError(err).WithField("owner", ownerID).Warn("failed to read cached preview snapshot")
		} else if ok {
			cached = &msg
		}
	}

	var draft map[string]interface{}
	if snapshot, err := a.content.Draft(r.Context(), ownerID); err == nil {
		draft = snapshot.Document
	} else if model.KindOf(err) != model.KindNotFound {
		return preview.State{}, err
	}

	return preview.Bootstrap(nil, cached, draft, owner.Plan), nil
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// previewStream is a server-sent event stream. The first event is the
// bootstrap state, followed by every update that carries new content.
func (a *apiServer) previewStream(w http.ResponseWriter, r *http.Request) {
	if a.preview == nil || a.hub == nil {
		writeError(w, errPreviewDisabled)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, model.NewError(model.KindInternal, "streaming is not supported"))
		return
	}

	ownerID := ownerIDFromContext(r.Context())
	// Subscribe before bootstrapping so nothing broadcast in between is lost.
	sub := a.hub.Subscribe(ownerID)
	defer sub.Close()

	state, err := a.bootstrapState(r, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	surface := preview.NewSurface(state)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "bootstrap", state); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if !surface.Apply(msg) {
				continue
			}
			if err := writeEvent(w, "update", surface.State()); err != nil {
				a.log.WithError(err).WithField("owner", ownerID).Debug("preview stream closed")
				return
			}
		}
	}
}
