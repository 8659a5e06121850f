package httpclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy decides whether a request is retried.
//
// Cancelled requests are never retried; a paused transfer must stop at once.
// Dial timeouts and deadline errors are retried, as are 429 and 5xx
// responses. Other transport errors are not.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return false, err
		case strings.Contains(err.Error(), "dial tcp") && strings.Contains(err.Error(), "i/o timeout"):
			return true, err
		case strings.Contains(err.Error(), "context deadline exceeded"):
			return true, err
		case strings.Contains(err.Error(), "connection refused"),
			strings.Contains(err.Error(), "connection reset by peer"):
			return true, err
		default:
			return false, err
		}
	}

	return retryablehttp.ErrorPropagatedRetryPolicy(ctx, resp, err)
}
