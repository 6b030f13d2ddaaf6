package httptracker

import (
	"net/http"
	"strconv"
)

// maxErrorBody is the number of body bytes included in the message of StatusError.
const maxErrorBody = 100

// StatusError is returned from HTTP tracker announces when the response code is not 200 OK.
type StatusError struct {
	Code   int
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	s := "http status: " + strconv.Itoa(e.Code)
	if e.Body == "" {
		return s
	}
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return s + ": " + strconv.Quote(body)
}
