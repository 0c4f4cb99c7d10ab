package score

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x404xx/rescore/pkg/httpx"
	"github.com/x404xx/rescore/pkg/recaptcha"
)

func testClient(t *testing.T) *httpx.Client {
	t.Helper()
	c, err := httpx.New(httpx.Config{})
	require.NoError(t, err)
	return c
}

func descriptorFor(pageURL string) *recaptcha.TargetDescriptor {
	return &recaptcha.TargetDescriptor{
		PageURL: pageURL,
		Variant: recaptcha.VariantV3,
		SiteKey: "6LfB5_IbAAAAAMCtsjEHEHKqcB9iQocwwxTiihJu",
		Action:  "homepage",
	}
}

func TestReport_ScoreDetector(t *testing.T) {
	var gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/score_detector/verify.php", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotToken = payload["g-recaptcha-response"]
		fmt.Fprint(w, `{"success":true,"score":0.9,"challenge_ts":"2024-01-01T00:00:00Z"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := Report(context.Background(), testClient(t), descriptorFor(srv.URL+"/score_detector/"), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", gotToken)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.9, *res.Score, 0.0001)
	assert.GreaterOrEqual(t, *res.Score, 0.0)
	assert.LessOrEqual(t, *res.Score, 1.0)
	assert.NotEmpty(t, res.RawResponse)
	assert.Equal(t, "tok-123", res.Token)
}

func TestReport_2CaptchaDemo(t *testing.T) {
	var gotKey, gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/captcha-demo/recaptcha-enterprise/verify", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotKey = payload["siteKey"]
		gotToken = payload["token"]
		fmt.Fprint(w, `{"success":true,"riskAnalysis":{"score":0.3}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := descriptorFor(srv.URL + "/demo/recaptcha-v3-enterprise")
	res, err := Report(context.Background(), testClient(t), d, "tok-456")
	require.NoError(t, err)
	assert.Equal(t, d.SiteKey, gotKey)
	assert.Equal(t, "tok-456", gotToken)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.3, *res.Score, 0.0001)
}

func TestReport_UnknownHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>thanks for your submission</html>`)
	}))
	defer srv.Close()

	res, err := Report(context.Background(), testClient(t), descriptorFor(srv.URL+"/login"), "tok-789")
	require.NoError(t, err, "unknown host must not be an error")
	assert.Nil(t, res.Score)
	assert.NotEmpty(t, res.RawResponse)
	assert.Equal(t, "tok-789", res.Token)
}

func TestReport_UnknownHostUnreachable(t *testing.T) {
	res, err := Report(context.Background(), testClient(t), descriptorFor("http://127.0.0.1:1/login"), "tok-789")
	require.NoError(t, err, "generic submit failure is only a warning")
	assert.Nil(t, res.Score)
	assert.Empty(t, res.RawResponse)
	assert.Equal(t, "tok-789", res.Token)
}

func TestReport_EmptyToken(t *testing.T) {
	_, err := Report(context.Background(), testClient(t), descriptorFor("https://antcpt.com/score_detector/"), "")
	assert.Error(t, err)
}

func TestReport_VerifyEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse connections

	_, err := Report(context.Background(), testClient(t), descriptorFor(srv.URL+"/score_detector/"), "tok")
	require.Error(t, err)

	var ne *recaptcha.NetworkError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, "report", ne.Stage)
}

func TestPickScore(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"flat score", `{"score":0.7}`, ptr(0.7)},
		{"risk analysis", `{"riskAnalysis":{"score":0.1}}`, ptr(0.1)},
		{"nested data", `{"data":{"score":1}}`, ptr(1.0)},
		{"no score", `{"success":true}`, nil},
		{"score not a number", `{"score":"high"}`, nil},
		{"not json", `<html>oops</html>`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickScore(tt.raw)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.0001)
		})
	}
}

func ptr(f float64) *float64 {
	return &f
}
