package recaptcha

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/x404xx/rescore/pkg/httpx"
)

const (
	// DefaultBaseURL is Google's reCAPTCHA endpoint root. Overridable on
	// the Client for fixture servers.
	DefaultBaseURL = "https://www.google.com/recaptcha"

	// anchorVersion is the synthetic client version sent with the anchor
	// request. Google accepts stale versions; it only has to look like one.
	anchorVersion = "khH7Ei3klcvfRI0HjJxKEJKF"

	// maxTransientRetries bounds immediate re-attempts after transient
	// failures. Authoritative rejections are never retried.
	maxTransientRetries = 2
)

var (
	anchorTokenRegEx   = regexp.MustCompile(`recaptcha-token" value="([^"]+)"`)
	invalidKeyMarkerRE = regexp.MustCompile(`(?i)invalid site key`)
	reloadTokenRegEx   = regexp.MustCompile(`"rresp","([^"]*)"`)
)

// session holds the state of one token acquisition. Ephemeral; discarded
// after producing a token or failing.
type session struct {
	siteKey     string
	coParam     string
	action      string
	sessionID   string
	anchorToken string
	reloadToken string
}

// Client replays the anchor/reload exchange Google's JavaScript client
// normally performs. Stateless between runs.
type Client struct {
	HTTP    *httpx.Client
	BaseURL string
}

func NewClient(h *httpx.Client) *Client {
	return &Client{
		HTTP:    h,
		BaseURL: DefaultBaseURL,
	}
}

// AcquireToken runs the two-step handshake for the descriptor and returns
// the signed response token along with the variant that produced it. A
// descriptor with VariantUnknown is resolved by trying v3 first, then
// enterprise, stopping at first success; if both fail, the more specific
// of the two errors is surfaced. Downstream stages must only ever see the
// resolved variant.
func (c *Client) AcquireToken(ctx context.Context, d *TargetDescriptor) (string, Variant, error) {
	if d == nil || d.SiteKey == "" {
		return "", VariantUnknown, errors.New("descriptor with site key is required")
	}

	if d.Variant != VariantUnknown {
		token, err := c.acquire(ctx, d, d.Variant)
		return token, d.Variant, err
	}

	token, v3Err := c.acquire(ctx, d, VariantV3)
	if v3Err == nil {
		return token, VariantV3, nil
	}
	slog.Debug("v3 handshake failed, trying enterprise", "url", d.PageURL, "error", v3Err)

	token, entErr := c.acquire(ctx, d, VariantEnterprise)
	if entErr == nil {
		return token, VariantEnterprise, nil
	}
	return "", VariantUnknown, moreSpecific(v3Err, entErr)
}

func (c *Client) acquire(ctx context.Context, d *TargetDescriptor, v Variant) (string, error) {
	s := &session{
		siteKey:   d.SiteKey,
		coParam:   d.CoParam,
		action:    d.Action,
		sessionID: uuid.NewString(),
	}
	if s.action == "" {
		s.action = ActionDefault
	}

	if err := c.anchor(ctx, s, v, d.PageURL); err != nil {
		return "", err
	}
	if err := c.reload(ctx, s, v, d.PageURL); err != nil {
		return "", err
	}

	slog.Debug("handshake complete",
		"url", d.PageURL,
		"variant", v,
		"sitekey", s.siteKey,
		"co", s.coParam,
		"action", s.action,
		"anchor_token", truncate(s.anchorToken),
		"token", truncate(s.reloadToken))

	return s.reloadToken, nil
}

// anchor GETs the variant's anchor endpoint and parses the recaptcha-token
// hidden form field out of the HTML response.
func (c *Client) anchor(ctx context.Context, s *session, v Variant, pageURL string) error {
	q := url.Values{
		"ar":   {"1"},
		"k":    {s.siteKey},
		"co":   {s.coParam},
		"hl":   {"en"},
		"v":    {anchorVersion},
		"size": {"invisible"},
		"cb":   {s.sessionID},
	}
	anchorURL := c.BaseURL + "/" + v.Path() + "/anchor?" + q.Encode()

	resp, err := c.getWithRetry(ctx, anchorURL, pageURL, "anchor")
	if err != nil {
		return err
	}

	body := string(resp.Body)
	if invalidKeyMarkerRE.MatchString(body) {
		return &AnchorError{URL: pageURL, InvalidKey: true, Err: errors.Errorf("site key %s rejected", s.siteKey)}
	}
	m := anchorTokenRegEx.FindStringSubmatch(body)
	if m == nil {
		return &AnchorError{URL: pageURL, Err: errors.New("recaptcha-token field missing")}
	}

	s.anchorToken = m[1]
	return nil
}

// reload POSTs the anchor token back and extracts the response token: the
// first quoted string following the "rresp" marker in the payload.
func (c *Client) reload(ctx context.Context, s *session, v Variant, pageURL string) error {
	reloadURL := c.BaseURL + "/" + v.Path() + "/reload?k=" + url.QueryEscape(s.siteKey)
	form := url.Values{
		"v":      {anchorVersion},
		"reason": {"q"},
		"c":      {s.anchorToken},
		"k":      {s.siteKey},
		"co":     {s.coParam},
		"action": {s.action},
	}

	resp, err := c.postWithRetry(ctx, reloadURL, form, pageURL)
	if err != nil {
		return err
	}

	m := reloadTokenRegEx.FindStringSubmatch(string(resp.Body))
	if m == nil {
		return &ReloadError{URL: pageURL, Err: errors.New("rresp marker not found in payload")}
	}
	if m[1] == "" {
		return &ReloadError{URL: pageURL, Err: errors.New("empty token in payload")}
	}

	s.reloadToken = m[1]
	return nil
}

// getWithRetry retries transient failures immediately, up to the bound.
// Non-transient HTTP statuses surface as NetworkError without retry.
func (c *Client) getWithRetry(ctx context.Context, target, pageURL, stage string) (*httpx.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		resp, err := c.HTTP.Get(ctx, target)
		if err != nil {
			lastErr = &NetworkError{Stage: stage, URL: pageURL, Err: err}
			continue
		}
		if resp.Transient() {
			lastErr = &NetworkError{Stage: stage, URL: pageURL, Err: errors.Errorf("server status: %d", resp.StatusCode)}
			continue
		}
		if !resp.OK() {
			return nil, &NetworkError{Stage: stage, URL: pageURL, Err: errors.Errorf("unexpected status: %d", resp.StatusCode)}
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) postWithRetry(ctx context.Context, target string, form url.Values, pageURL string) (*httpx.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		resp, err := c.HTTP.PostForm(ctx, target, form)
		if err != nil {
			lastErr = &NetworkError{Stage: "reload", URL: pageURL, Err: err}
			continue
		}
		if resp.Transient() {
			lastErr = &NetworkError{Stage: "reload", URL: pageURL, Err: errors.Errorf("server status: %d", resp.StatusCode)}
			continue
		}
		if !resp.OK() {
			return nil, &NetworkError{Stage: "reload", URL: pageURL, Err: errors.Errorf("unexpected status: %d", resp.StatusCode)}
		}
		return resp, nil
	}
	return nil, lastErr
}

// moreSpecific picks the error that says more about what went wrong when
// both variant attempts fail. An authoritative key rejection beats a
// reload parse failure, which beats a generic anchor failure, which beats
// plain network trouble.
func moreSpecific(a, b error) error {
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

func rank(err error) int {
	var ae *AnchorError
	if errors.As(err, &ae) {
		if ae.InvalidKey {
			return 3
		}
		return 1
	}
	var re *ReloadError
	if errors.As(err, &re) {
		return 2
	}
	return 0
}

func truncate(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
