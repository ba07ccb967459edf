package pagela

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
)

// duplicateMarker is how the store words a duplicate-creation rejection.
const duplicateMarker = "already exists"

// classifyResponse turns an error response into a typed remote error.
func classifyResponse(status int, body []byte) *shared.RemoteError {
	msg := errorMessage(body)

	return &shared.RemoteError{
		Kind:    kindForStatus(status, msg),
		Status:  status,
		Message: msg,
	}
}

func kindForStatus(status int, msg string) shared.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		if strings.Contains(strings.ToLower(msg), duplicateMarker) {
			return shared.KindConflict
		}
		return shared.KindValidation
	case http.StatusUnprocessableEntity:
		return shared.KindValidation
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return shared.KindTransient
	}

	if status >= 500 {
		return shared.KindTransient
	}
	return shared.KindFatal
}

// errorMessage extracts the message of an error body, falling back to the
// raw text for non-JSON bodies.
func errorMessage(body []byte) string {
	var apiErr APIErrorDTO
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if text := apiErr.Text(); text != "" {
			return text
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// classifyTransport wraps a failure that produced no HTTP response.
func classifyTransport(err error) *shared.RemoteError {
	return &shared.RemoteError{Kind: shared.KindTransient, Err: err}
}

// decodeError marks a success response whose body could not be read.
func decodeError(status int, err error) *shared.RemoteError {
	return &shared.RemoteError{
		Kind:    shared.KindFatal,
		Status:  status,
		Message: "undecodable response body",
		Err:     err,
	}
}
