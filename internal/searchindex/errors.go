package searchindex

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoAppID     = errors.New("searchindex: app id missing")
	ErrNoAPIKey    = errors.New("searchindex: admin api key missing")
	ErrNoIndexName = errors.New("searchindex: index name missing")
)

// APIError is the error body returned by the search API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d - %s", e.Status, e.Message)
}

// handleAPIError turns a transport error or an error response into a Go error.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Message != "" {
			if apiErr.Status == 0 {
				apiErr.Status = resp.GetStatusCode()
			}
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: %w", operation, &APIError{Status: resp.GetStatusCode(), Message: resp.String()})
	}

	return nil
}
