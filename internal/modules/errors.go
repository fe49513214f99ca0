package modules

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsupportedScheme = errors.New("only http and https modules can be fetched")
	ErrTooLarge          = errors.New("module exceeds size limit")
)

// FetchError describes a module that could not be downloaded. Status is
// zero when no response was received.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("failed to fetch %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
	default:
		return "failed to fetch " + e.URL
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the module host
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}

// isClientError reports failures caused by the request rather than the host
func isClientError(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Status >= 400 && fe.Status < 500 && fe.Status != http.StatusTooManyRequests {
		return true
	}
	return errors.Is(err, ErrUnsupportedScheme) || errors.Is(err, ErrTooLarge)
}
