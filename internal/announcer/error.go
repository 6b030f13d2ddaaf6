package announcer

import (
	"errors"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker/httptracker"
)

// AnnounceError wraps an announce error with a message that is suitable for showing to the user.
type AnnounceError struct {
	Err     error
	Message string
	Unknown bool
}

func newAnnounceError(err error) (e *AnnounceError) {
	e = &AnnounceError{Err: err}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && strings.HasSuffix(dnsErr.Error(), "no such host") {
		e.Message = "host not found: " + dnsErr.Name
		return
	}
	var terr *tracker.Error
	if errors.As(err, &terr) {
		e.Message = "announce error: " + terr.FailureReason
		return
	}
	var serr *httptracker.StatusError
	if errors.As(err, &serr) {
		e.Message = "tracker returned http status: " + strconv.Itoa(serr.Code)
		return
	}
	if errors.Is(err, tracker.ErrDecode) {
		e.Message = "invalid response from tracker"
		return
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && strings.HasSuffix(uerr.Error(), "connection refused") {
		e.Message = "tracker refused the connection"
		return
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		e.Message = "timeout contacting tracker"
		return
	}
	e.Message = "unknown error in announce"
	e.Unknown = true
	return
}

func (e *AnnounceError) Error() string {
	return e.Message
}

func (e *AnnounceError) Unwrap() error {
	return e.Err
}

// ErrorWithType returns the underlying error prefixed with its Go type.
func (e *AnnounceError) ErrorWithType() string {
	return reflect.TypeOf(e.Err).String() + ": " + e.Err.Error()
}
