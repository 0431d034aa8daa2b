package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kredo-protocol/kredo/model"
)

// errorEnvelope is the uniform error body: {error: kind, message, details?}.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

// writeError maps a domain error to its HTTP status and envelope. Internal
// causes are logged, never sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	envelope := errorEnvelope{Error: string(kind)}

	var e *model.Error
	if errors.As(err, &e) && kind != model.KindInternal {
		envelope.Message = e.Message
		envelope.Details = e.Details
	} else {
		envelope.Message = "internal error"
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Error(err))
	}
	s.writeJSON(w, model.HTTPStatus(kind), envelope)
}

// decodeBody parses a JSON request body into dst. Size is already bounded by
// the body-limit middleware; failures are validation errors.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewError(model.KindValidation, "request body too large").
				WithDetail("max_body_bytes", maxErr.Limit)
		}
		return model.WrapError(model.KindValidation, "malformed JSON body", err)
	}
	return nil
}

// decodeRawBody parses a JSON body while keeping the raw map, for endpoints
// that detect the document type by shape.
func decodeRawBody(r *http.Request) (map[string]any, error) {
	var raw map[string]any
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
