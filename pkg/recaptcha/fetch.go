package recaptcha

import (
	"context"

	"github.com/pkg/errors"

	"github.com/x404xx/rescore/pkg/httpx"
)

// Fetch retrieves the target page HTML with a single GET. No retries at
// this layer; retry policy belongs to the caller.
func Fetch(ctx context.Context, client *httpx.Client, pageURL string) (string, error) {
	resp, err := client.Get(ctx, pageURL)
	if err != nil {
		return "", &NetworkError{Stage: "fetch", URL: pageURL, Err: err}
	}
	if !resp.OK() {
		return "", &NetworkError{
			Stage: "fetch",
			URL:   pageURL,
			Err:   errors.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}
	return string(resp.Body), nil
}
