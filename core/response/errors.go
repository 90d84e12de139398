package response

import "net/http"

// HTTPError is a structured error response that implements error.
type HTTPError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status, defaulting to 500.
func (e HTTPError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// WithMessage returns a copy of the error with a custom message.
func (e HTTPError) WithMessage(message string) HTTPError {
	e.Message = message
	return e
}

// WithError returns a copy of the error with the cause in its details.
func (e HTTPError) WithError(err error) HTTPError {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details["cause"] = err.Error()
	e.Details = details
	return e
}

var (
	ErrConflict = HTTPError{
		Status:  http.StatusConflict,
		Code:    "conflict",
		Message: http.StatusText(http.StatusConflict),
	}
	ErrInternalServerError = HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_server_error",
		Message: http.StatusText(http.StatusInternalServerError),
	}
)
