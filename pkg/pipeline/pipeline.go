package pipeline

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/x404xx/rescore/pkg/httpx"
	"github.com/x404xx/rescore/pkg/recaptcha"
	"github.com/x404xx/rescore/pkg/score"
)

// Options tune a single pipeline run.
type Options struct {
	// Action overrides the action extracted from the page.
	Action string
}

// Runner wires the four stages together: fetch, extract, handshake,
// report. Runners share no mutable state, so independent instances (or
// one instance across goroutines) can process URLs concurrently.
type Runner struct {
	Client    *httpx.Client
	Handshake *recaptcha.Client
}

func New(client *httpx.Client) *Runner {
	return &Runner{
		Client:    client,
		Handshake: recaptcha.NewClient(client),
	}
}

// Run executes the full pipeline for one URL. The first three stages are
// fatal on error; an unsupported score host still yields a result.
func (r *Runner) Run(ctx context.Context, pageURL string, opts Options) (*score.Result, error) {
	if pageURL == "" {
		return nil, errors.New("target URL is required")
	}

	html, err := recaptcha.Fetch(ctx, r.Client, pageURL)
	if err != nil {
		return nil, err
	}

	d, err := recaptcha.Extract(pageURL, html)
	if err != nil {
		return nil, err
	}
	if opts.Action != "" {
		d = &recaptcha.TargetDescriptor{
			PageURL: d.PageURL,
			Variant: d.Variant,
			SiteKey: d.SiteKey,
			CoParam: d.CoParam,
			Action:  opts.Action,
		}
	}
	slog.Debug("descriptor extracted",
		"url", pageURL, "variant", d.Variant, "sitekey", d.SiteKey, "action", d.Action)

	token, resolved, err := r.Handshake.AcquireToken(ctx, d)
	if err != nil {
		return nil, err
	}
	if resolved != d.Variant {
		d = &recaptcha.TargetDescriptor{
			PageURL: d.PageURL,
			Variant: resolved,
			SiteKey: d.SiteKey,
			CoParam: d.CoParam,
			Action:  d.Action,
		}
	}

	return score.Report(ctx, r.Client, d, token)
}
