package apiserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, resp model.Response) {
	res, err := json.Marshal(resp)
	if err != nil {
		logrus.Errorf("unable to encode response: %v", err)
		status = http.StatusInternalServerError
		res = []byte(`{"success":false,"message":"internal error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(res)
}

func writeError(w http.ResponseWriter, err error) {
	status := model.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.Errorf("got a response error: %v", err)
	} else {
		logrus.Debugf("got a response error: %v", err)
	}
	writeJSON(w, status, model.Response{Success: false, Message: model.PublicMessage(err)})
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}, msg string) {
	writeJSON(w, status, model.Response{Success: true, Message: msg, Data: data})
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, model.WrapError(err, model.KindValidation, "unable to read request body")
	}
	if len(body) > maxBodyBytes {
		return nil, model.Validation("request body is too large")
	}
	return body, nil
}

// decodeJSON decodes the body into v. Malformed JSON and unknown fields are
// reported as validation errors, never as internal ones.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return model.Validation("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return model.WrapError(err, model.KindValidation, "malformed JSON body")
		case errors.As(err, &typeErr):
			return model.Validation("field %q has the wrong type", typeErr.Field)
		default:
			return model.WrapError(err, model.KindValidation, "invalid JSON body")
		}
	}
	return nil
}

func errorResponse(msg string) model.Response {
	return model.Response{Success: false, Message: msg}
}
