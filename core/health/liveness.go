package health

import (
	"net/http"
)

// Liveness indicates if the service process is running.
// Always returns "ALIVE" with 200 OK. No dependency checks.
func Liveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ALIVE")
}

// NoContent returns HTTP 204 without body. Ideal for high-frequency checks.
func NoContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
