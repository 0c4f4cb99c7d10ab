package recaptcha

import "fmt"

// NetworkError covers connectivity failures, timeouts, and non-2xx
// statuses on any HTTP call in the pipeline.
type NetworkError struct {
	Stage string
	URL   string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error at %s stage for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DescriptorNotFoundError means no site key could be located anywhere in
// the target page.
type DescriptorNotFoundError struct {
	URL string
}

func (e *DescriptorNotFoundError) Error() string {
	return fmt.Sprintf("no reCAPTCHA site key found in: %s", e.URL)
}

// AnchorError means the anchor step was rejected or returned a payload
// without a recaptcha-token field. InvalidKey marks the authoritative
// "invalid site key" rejection, which is never retried.
type AnchorError struct {
	URL        string
	InvalidKey bool
	Err        error
}

func (e *AnchorError) Error() string {
	if e.InvalidKey {
		return fmt.Sprintf("anchor rejected site key for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("anchor response unusable for %s: %v", e.URL, e.Err)
}

func (e *AnchorError) Unwrap() error {
	return e.Err
}

// ReloadError means the reload step returned a malformed payload or an
// empty token.
type ReloadError struct {
	URL string
	Err error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload response unusable for %s: %v", e.URL, e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}
