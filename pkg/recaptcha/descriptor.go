package recaptcha

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// Variant identifies which reCAPTCHA API family a page uses.
type Variant string

const (
	VariantV3         Variant = "v3"
	VariantEnterprise Variant = "enterprise"
	VariantUnknown    Variant = "unknown"

	// ActionDefault is used when the page does not declare an explicit
	// action in its inline script.
	ActionDefault = "homepage"
)

// Path returns the URL path segment Google uses for the variant's
// anchor/reload endpoints.
func (v Variant) Path() string {
	if v == VariantEnterprise {
		return "enterprise"
	}
	return "api2"
}

// TargetDescriptor is everything the handshake needs to know about a
// target page. Immutable once built; VariantUnknown is a valid terminal
// state resolved later by the handshake client's priority order.
type TargetDescriptor struct {
	PageURL string  `json:"page_url" yaml:"page_url"`
	Variant Variant `json:"variant" yaml:"variant"`
	SiteKey string  `json:"site_key" yaml:"site_key"`
	CoParam string  `json:"co_param" yaml:"co_param"`
	Action  string  `json:"action" yaml:"action"`
}

var (
	renderKeyRegEx  = regexp.MustCompile(`[?&]render=([0-9A-Za-z_-]+)`)
	executeRegEx    = regexp.MustCompile(`grecaptcha(\.enterprise)?\.execute\(\s*['"]([0-9A-Za-z_-]+)['"]`)
	escapedKeyRegEx = regexp.MustCompile(`&#x27;(6L[0-9A-Za-z_-]{38})`)
	frameKeyRegEx   = regexp.MustCompile(`/recaptcha/(api2|enterprise)/anchor\?[^"' ]*\bk=(6L[0-9A-Za-z_-]{38})`)
	scriptPathRegEx = regexp.MustCompile(`/recaptcha/(api|enterprise)\.js`)
	coParamRegEx    = regexp.MustCompile(`[?&]co=([0-9A-Za-z+/._-]+)`)
	actionRegEx     = regexp.MustCompile(`action:\s*['"]([0-9A-Za-z_/-]+)['"]`)
)

// extractStrategy attempts to pull a site key and variant out of the
// page. Strategies run in declaration order; the first to succeed wins.
type extractStrategy func(doc *goquery.Document, html string) (key string, variant Variant, ok bool)

var extractStrategies = []extractStrategy{
	fromScriptInclude,
	fromInlineExecute,
	fromAnchorFrame,
	fromEscapedKey,
}

// Extract parses raw HTML into a TargetDescriptor for the given page URL.
// Returns DescriptorNotFoundError when no site key can be located by any
// strategy.
func Extract(pageURL, html string) (*TargetDescriptor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse HTML from: %s", pageURL)
	}

	var key string
	variant := VariantUnknown
	for _, strategy := range extractStrategies {
		if k, v, ok := strategy(doc, html); ok {
			key, variant = k, v
			break
		}
	}
	if key == "" {
		return nil, &DescriptorNotFoundError{URL: pageURL}
	}

	co := extractCoParam(html)
	if co == "" {
		co, err = EncodeOrigin(pageURL)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive co param for: %s", pageURL)
		}
	}

	return &TargetDescriptor{
		PageURL: pageURL,
		Variant: variant,
		SiteKey: key,
		CoParam: co,
		Action:  extractAction(html),
	}, nil
}

// fromScriptInclude reads the reCAPTCHA script tag: enterprise.js means
// enterprise, api.js with a render param means v3.
func fromScriptInclude(doc *goquery.Document, _ string) (string, Variant, bool) {
	var key string
	variant := VariantUnknown

	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		m := scriptPathRegEx.FindStringSubmatch(src)
		if m == nil {
			return true
		}
		if m[1] == "enterprise" {
			variant = VariantEnterprise
		} else {
			variant = VariantV3
		}
		if km := renderKeyRegEx.FindStringSubmatch(src); km != nil && km[1] != "explicit" {
			key = km[1]
			return false
		}
		return true
	})

	return key, variant, key != ""
}

// fromInlineExecute scans inline script blocks for a grecaptcha.execute
// call. The enterprise namespace is authoritative for the variant; a bare
// execute leaves the variant unknown unless a script path elsewhere in
// the page says otherwise.
func fromInlineExecute(_ *goquery.Document, html string) (string, Variant, bool) {
	m := executeRegEx.FindStringSubmatch(html)
	if m == nil {
		return "", VariantUnknown, false
	}
	if m[1] != "" {
		return m[2], VariantEnterprise, true
	}
	return m[2], variantFromScriptPath(html), true
}

// fromAnchorFrame reads the site key straight off an embedded anchor
// iframe URL, which also names the variant in its path.
func fromAnchorFrame(_ *goquery.Document, html string) (string, Variant, bool) {
	m := frameKeyRegEx.FindStringSubmatch(html)
	if m == nil {
		return "", VariantUnknown, false
	}
	variant := VariantV3
	if m[1] == "enterprise" {
		variant = VariantEnterprise
	}
	return m[2], variant, true
}

// fromEscapedKey is the last-resort scan for an HTML-entity-escaped key
// literal, as served by some server-rendered pages.
func fromEscapedKey(_ *goquery.Document, html string) (string, Variant, bool) {
	m := escapedKeyRegEx.FindStringSubmatch(html)
	if m == nil {
		return "", VariantUnknown, false
	}
	return m[1], variantFromScriptPath(html), true
}

func variantFromScriptPath(html string) Variant {
	m := scriptPathRegEx.FindStringSubmatch(html)
	if m == nil {
		return VariantUnknown
	}
	if m[1] == "enterprise" {
		return VariantEnterprise
	}
	return VariantV3
}

func extractCoParam(html string) string {
	if m := coParamRegEx.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

func extractAction(html string) string {
	if m := actionRegEx.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ActionDefault
}

// EncodeOrigin derives the "co" anchor parameter from the target URL's
// origin: base64 of scheme://host:443 with the '=' padding swapped for
// '.' the way Google's client encodes it.
func EncodeOrigin(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("invalid page URL: %s", pageURL)
	}

	origin := fmt.Sprintf("%s://%s:443", u.Scheme, u.Host)
	enc := base64.StdEncoding.EncodeToString([]byte(origin))
	trimmed := strings.TrimRight(enc, "=")
	return trimmed + strings.Repeat(".", len(enc)-len(trimmed)), nil
}
