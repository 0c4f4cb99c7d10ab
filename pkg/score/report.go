package score

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/x404xx/rescore/pkg/httpx"
	"github.com/x404xx/rescore/pkg/recaptcha"
)

// Result is the final pipeline output. Score is nil when the host's
// response shape is unknown; the token itself is still a valid artifact.
type Result struct {
	URL         string    `json:"url" yaml:"url"`
	Host        string    `json:"host" yaml:"host"`
	SiteKey     string    `json:"site_key" yaml:"site_key"`
	Variant     string    `json:"variant" yaml:"variant"`
	Action      string    `json:"action" yaml:"action"`
	Token       string    `json:"token" yaml:"token"`
	Score       *float64  `json:"score,omitempty" yaml:"score,omitempty"`
	RawResponse string    `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
	Solved      time.Time `json:"solved" yaml:"solved"`
}

// UnsupportedHostError means the target's score endpoint shape is not
// known. Recovered locally: the reporter downgrades it to a warning and
// returns the raw response with score absent.
type UnsupportedHostError struct {
	Host string
}

func (e *UnsupportedHostError) Error() string {
	return fmt.Sprintf("no known score endpoint shape for host: %s", e.Host)
}

// hostReporter submits the token to a site's own verification endpoint
// and returns the raw response plus the parsed score, if any.
type hostReporter func(ctx context.Context, client *httpx.Client, page *url.URL, d *recaptcha.TargetDescriptor, token string) (raw string, score *float64, err error)

// reporters is matched in order against the target page. Each entry owns
// one known demo-host response shape.
var reporters = []struct {
	name    string
	matches func(page *url.URL) bool
	report  hostReporter
}{
	{
		name:    "antcpt score_detector",
		matches: func(p *url.URL) bool { return strings.Contains(p.Path, "score_detector") },
		report:  reportScoreDetector,
	},
	{
		name:    "2captcha demo",
		matches: func(p *url.URL) bool { return strings.Contains(p.Path, "captcha-demo") || strings.Contains(p.Path, "/demo/recaptcha") },
		report:  report2CaptchaDemo,
	},
}

// Report exchanges the token with the page's own scoring backend. An
// unknown host is not a failure: the result carries the token and the
// raw response with score absent.
func Report(ctx context.Context, client *httpx.Client, d *recaptcha.TargetDescriptor, token string) (*Result, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}

	page, err := url.Parse(d.PageURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid target URL: %s", d.PageURL)
	}

	res := &Result{
		URL:     d.PageURL,
		Host:    page.Hostname(),
		SiteKey: d.SiteKey,
		Variant: string(d.Variant),
		Action:  d.Action,
		Token:   token,
		Solved:  time.Now().UTC(),
	}

	for _, r := range reporters {
		if !r.matches(page) {
			continue
		}
		slog.Debug("reporting score", "shape", r.name, "host", page.Hostname())
		raw, score, err := r.report(ctx, client, page, d, token)
		if err != nil {
			return nil, &recaptcha.NetworkError{Stage: "report", URL: d.PageURL, Err: err}
		}
		res.RawResponse = raw
		res.Score = score
		return res, nil
	}

	// Unknown host: best-effort same-origin submission. Whatever comes
	// back is still worth returning next to the token, but a failure here
	// is only a warning, never a pipeline error.
	hostErr := &UnsupportedHostError{Host: page.Hostname()}
	raw, score, err := reportGeneric(ctx, client, page, d, token)
	if err != nil {
		slog.Warn("score endpoint shape unknown, returning token without score",
			"host", page.Hostname(), "error", hostErr)
		return res, nil
	}
	if score == nil {
		slog.Warn("score not recognized in response, returning raw",
			"host", page.Hostname(), "error", hostErr)
	}
	res.RawResponse = raw
	res.Score = score
	return res, nil
}

// reportGeneric POSTs the token back to the page itself the way a plain
// form submit would. Used only when no known host shape matches.
func reportGeneric(ctx context.Context, client *httpx.Client, page *url.URL, _ *recaptcha.TargetDescriptor, token string) (string, *float64, error) {
	resp, err := client.PostForm(ctx, page.String(), url.Values{
		"g-recaptcha-response": {token},
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "generic verify failed")
	}

	raw := string(resp.Body)
	return raw, pickScore(raw), nil
}

// reportScoreDetector talks to the antcpt.com score_detector backend:
// POST verify.php with {"g-recaptcha-response": token}, score in the
// "score" field of the JSON reply.
func reportScoreDetector(ctx context.Context, client *httpx.Client, page *url.URL, _ *recaptcha.TargetDescriptor, token string) (string, *float64, error) {
	verifyURL := page.Scheme + "://" + page.Host + "/score_detector/verify.php"

	resp, err := client.PostJSON(ctx, verifyURL, map[string]string{
		"g-recaptcha-response": token,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "score_detector verify failed")
	}

	raw := string(resp.Body)
	return raw, pickScore(raw), nil
}

// report2CaptchaDemo talks to the 2captcha enterprise demo backend:
// POST the site key and token as JSON.
func report2CaptchaDemo(ctx context.Context, client *httpx.Client, page *url.URL, d *recaptcha.TargetDescriptor, token string) (string, *float64, error) {
	verifyURL := page.Scheme + "://" + page.Host + "/api/v1/captcha-demo/recaptcha-enterprise/verify"

	resp, err := client.PostJSON(ctx, verifyURL, map[string]string{
		"siteKey": d.SiteKey,
		"token":   token,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "captcha-demo verify failed")
	}

	raw := string(resp.Body)
	return raw, pickScore(raw), nil
}

// pickScore pulls a numeric score out of a verification reply, checking
// the field paths the known hosts use.
func pickScore(raw string) *float64 {
	for _, path := range []string{"score", "riskAnalysis.score", "data.score"} {
		if v := gjson.Get(raw, path); v.Exists() && v.Type == gjson.Number {
			f := v.Float()
			return &f
		}
	}
	return nil
}
