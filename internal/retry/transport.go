package retry

import (
	"io"
	"net/http"

	"golang.org/x/xerrors"
)

// Transport retries requests according to RetryOn. Requests with a body are replayed
// through Request.GetBody, so verdict callbacks built with http.NewRequest survive a
// retry.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	ctx := request.Context()

	for attempt := uint(0); ; attempt++ {
		if attempt > 0 && request.Body != nil && request.Body != http.NoBody {
			if request.GetBody == nil {
				return nil, xerrors.New("cannot retry request with a non-replayable body")
			}
			body, err := request.GetBody()
			if err != nil {
				return nil, xerrors.Errorf("failed to rewind request body: %w", err)
			}
			request = request.Clone(ctx)
			request.Body = body
		}

		sleep, exceeded := t.retryStrategy().Sleep(attempt)

		response, err := t.base().RoundTrip(request)
		if err != nil {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckError(err) {
				return nil, err
			}
		} else {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckResponse(response) {
				return response, nil
			}
			_, _ = io.Copy(io.Discard, response.Body)
			response.Body.Close()
		}

		if err := wait(ctx, sleep); err != nil {
			return nil, err
		}
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
