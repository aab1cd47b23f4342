package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/myeasypage/easypage/pkg/content"
	"github.com/myeasypage/easypage/pkg/model"
)

func draftResponse(s content.Snapshot) model.DraftResponse {
	return model.DraftResponse{Document: s.Document, UpdatedAt: s.UpdatedAt}
}

func (a *apiServer) getDraft(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.content.EditorState(r.Context(), ownerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, draftResponse(snapshot), "")
}

func (a *apiServer) saveDraft(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// Syntax errors are a 400, schema violations a 422.
	if !json.Valid(body) {
		writeError(w, model.Validation("malformed JSON body"))
		return
	}
	partial, err := model.DecodeProfileDesign(body)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := a.content.SaveDraft(r.Context(), ownerIDFromContext(r.Context()), partial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, draftResponse(snapshot), "draft saved")
}

func (a *apiServer) publish(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.content.Publish(r.Context(), ownerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, draftResponse(snapshot), "published")
}

func (a *apiServer) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.backend.ListPosts(r.Context(), ownerIDFromContext(r.Context()), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, posts, "")
}

func (a *apiServer) createPost(w http.ResponseWriter, r *http.Request) {
	var input model.PostRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	post, err := a.backend.CreatePost(r.Context(), ownerIDFromContext(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, post, "")
}

func (a *apiServer) updatePost(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var input model.PostRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	post, err := a.backend.UpdatePost(r.Context(), ownerIDFromContext(r.Context()), id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, post, "")
}

func (a *apiServer) deletePost(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.backend.DeletePost(r.Context(), ownerIDFromContext(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "post deleted")
}

func (a *apiServer) claimDomain(w http.ResponseWriter, r *http.Request) {
	var input model.DomainClaimRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.backend.ClaimDomain(r.Context(), ownerIDFromContext(r.Context()), input.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "add the TXT record, then verify")
}

func (a *apiServer) verifyDomain(w http.ResponseWriter, r *http.Request) {
	res, err := a.backend.VerifyDomain(r.Context(), ownerIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}

func (a *apiServer) presignUpload(w http.ResponseWriter, r *http.Request) {
	var input model.UploadRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.backend.PresignUpload(r.Context(), ownerIDFromContext(r.Context()), input.ContentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}
