package apiserver

import (
	"net/http"
	"strings"

	"github.com/myeasypage/easypage/pkg/backend"
	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/otp"
	"github.com/myeasypage/easypage/pkg/ratelimit"
)

// targetKey is the rate limit identifier of an email or phone target.
func targetKey(target, countryCode string) string {
	if countryCode != "" {
		return otp.Normalize("+" + strings.TrimPrefix(strings.TrimSpace(countryCode), "+") + target)
	}
	return otp.Normalize(target)
}

func (a *apiServer) startSession(w http.ResponseWriter, owner db.Owner, status int) {
	if err := a.sessions.SetCookie(w, owner.ID, owner.Role); err != nil {
		writeError(w, model.WrapError(err, model.KindInternal, "unable to start session"))
		return
	}
	writeSuccess(w, status, backend.OwnerView(owner), "")
}

func (a *apiServer) signup(w http.ResponseWriter, r *http.Request) {
	if !a.limit(w, r, ratelimit.Signup, realIP(r)) {
		return
	}

	var input model.SignupRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	owner, err := a.backend.Signup(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	a.startSession(w, owner, http.StatusCreated)
}

func (a *apiServer) login(w http.ResponseWriter, r *http.Request) {
	var input model.LoginRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	key := realIP(r)
	switch {
	case input.Email != "":
		key = targetKey(input.Email, "")
	case input.Mobile != "":
		key = targetKey(input.Mobile, input.CountryCode)
	}
	if !a.limit(w, r, ratelimit.Login, key) {
		return
	}

	owner, err := a.backend.Login(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	a.startSession(w, owner, http.StatusOK)
}

func (a *apiServer) logout(w http.ResponseWriter, r *http.Request) {
	a.sessions.ClearCookie(w)
	writeSuccess(w, http.StatusOK, nil, "logged out")
}

func (a *apiServer) sendOTP(w http.ResponseWriter, r *http.Request) {
	var input model.SendOTPRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(input.Target) == "" {
		writeError(w, model.Validation("target is required"))
		return
	}
	if !a.limit(w, r, ratelimit.OTP, targetKey(input.Target, input.CountryCode)) {
		return
	}

	res, err := a.backend.SendOTP(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}

func (a *apiServer) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var input model.VerifyOTPRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.backend.VerifyOTP(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}

func (a *apiServer) resetPassword(w http.ResponseWriter, r *http.Request) {
	var input model.ResetPasswordRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	if err := a.backend.ResetPassword(r.Context(), input); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "password updated")
}
