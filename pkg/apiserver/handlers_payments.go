package apiserver

import (
	"net/http"

	"github.com/myeasypage/easypage/pkg/model"
)

// SignatureHeader carries the provider's HMAC of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

var errPaymentsDisabled = model.NewError(model.KindUpstream, "payments are not configured")

func (a *apiServer) createOrder(w http.ResponseWriter, r *http.Request) {
	if a.payments == nil {
		writeError(w, errPaymentsDisabled)
		return
	}
	var input model.CreateOrderRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	order, err := a.payments.CreateOrder(r.Context(), ownerIDFromContext(r.Context()), input.Plan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, order, "")
}

func (a *apiServer) verifyPayment(w http.ResponseWriter, r *http.Request) {
	if a.payments == nil {
		writeError(w, errPaymentsDisabled)
		return
	}
	var input model.VerifyPaymentRequest
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.payments.VerifyPayment(r.Context(), ownerIDFromContext(r.Context()), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "")
}

func (a *apiServer) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if a.payments == nil {
		writeError(w, errPaymentsDisabled)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader)); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "")
}
