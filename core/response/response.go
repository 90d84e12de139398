package response

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Response renders itself to the writer. A returned error means nothing
// useful was written yet.
type Response func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to an http.Handler. A render error becomes a JSON
// HTTPError: the error itself if it is one, ErrInternalServerError otherwise.
func Handle(fn func(r *http.Request) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := fn(r)
		if resp == nil {
			resp = NoContent()
		}
		if err := resp(w, r); err != nil {
			var httpErr HTTPError
			if !errors.As(err, &httpErr) {
				httpErr = ErrInternalServerError.WithError(err)
			}
			_ = Error(httpErr)(w, r)
		}
	}
}

// JSON creates an application/json response with 200 OK status.
func JSON(v any) Response {
	return JSONWithStatus(v, http.StatusOK)
}

// JSONWithStatus creates an application/json response with a custom status
// code. Status 0 means 204 for nil data and 200 otherwise.
func JSONWithStatus(v any, status int) Response {
	return func(w http.ResponseWriter, _ *http.Request) error {
		if status == 0 {
			status = http.StatusOK
			if v == nil {
				status = http.StatusNoContent
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)

		switch status {
		case http.StatusNoContent, http.StatusNotModified:
			return nil
		}
		return json.NewEncoder(w).Encode(v)
	}
}

// NoContent creates an empty 204 response.
func NoContent() Response {
	return func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

// Error renders err as JSON with its status code.
func Error(err HTTPError) Response {
	return JSONWithStatus(err, err.StatusCode())
}
