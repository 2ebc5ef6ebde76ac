package apperr

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON error body of every HTTP response.
type Envelope struct {
	Error Detail `json:"error"`
}

// Detail carries the code and client-safe message of an Envelope.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EnvelopeOf builds the response body for err.
func EnvelopeOf(err error) Envelope {
	return Envelope{Error: Detail{
		Code:    string(CodeOf(err)),
		Message: MessageOf(err),
	}}
}

// WriteHTTP writes err as an Envelope with its mapped status. Token
// failures carry a Bearer challenge.
func WriteHTTP(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	if code == CodeTokenExpired || code == CodeInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(EnvelopeOf(err))
}
