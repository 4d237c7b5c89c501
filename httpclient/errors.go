package httpclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mnehpets/rescdash/endpoint"
	"github.com/rs/zerolog"
)

// ErrRequestCancelled is returned by Transport for a request it refused to
// send because the session's access token has expired.
var ErrRequestCancelled = fmt.Errorf("httpclient: request cancelled: %w", endpoint.ErrUpstreamCancelled)

// ResponseError is a request that received a non-2xx response.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// RequestError is a request that was sent but received no response.
type RequestError struct {
	Method string
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// HandleError logs err with the detail available for its kind: the response
// of a ResponseError, the target of a RequestError, or just the message for
// a request that could not be built.
func HandleError(log zerolog.Logger, err error) {
	if err == nil {
		return
	}
	var respErr *ResponseError
	var reqErr *RequestError
	switch {
	case errors.As(err, &respErr):
		log.Error().
			Str("method", respErr.Method).
			Str("url", respErr.URL).
			Int("status", respErr.StatusCode).
			Bytes("body", respErr.Body).
			Interface("headers", respErr.Header).
			Msg("request failed with response")
	case errors.As(err, &reqErr):
		log.Error().
			Err(reqErr.Err).
			Str("method", reqErr.Method).
			Str("url", reqErr.URL).
			Msg("request sent but no response received")
	default:
		log.Error().Err(err).Msg("request could not be made")
	}
}
