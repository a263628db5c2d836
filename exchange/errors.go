package exchange

import (
	"fmt"
	"github.com/pkg/errors"
)

// ErrInvalidRequest marks arguments rejected before anything was sent.
// Such errors point at a bug, not at exchange flakiness.
var ErrInvalidRequest = errors.New("invalid request")

// APIError is a request the exchange answered with a non-zero ret_code,
// including signature and timestamp rejections.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange %s: ret_code=%d ret_msg=%s", e.Path, e.Code, e.Msg)
}

// HTTPError is a non-2xx answer without a decodable envelope.
type HTTPError struct {
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("exchange %s: http %d: %s", e.Path, e.Status, e.Body)
}

// IsTransient reports whether err should be retried on the next loop iteration.
// Everything the exchange or the network produced is transient; only local
// argument errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidRequest)
}
