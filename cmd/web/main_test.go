package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/platform/config"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

type testClient struct {
	t    *testing.T
	srv  *httptest.Server
	http *http.Client
}

// newTestServer starts the full router against backend. A nil backend selects
// the demo responder.
func newTestServer(t *testing.T, backend http.Handler) *testClient {
	t.Helper()
	env := map[string]string{
		"MINPAKU_SESSION_HASH_KEY":   testHashKey,
		"MINPAKU_SIMULATION_TIMEOUT": "2s",
	}
	if backend != nil {
		upstream := httptest.NewServer(backend)
		t.Cleanup(upstream.Close)
		env["MINPAKU_SIMULATION_BASE_URL"] = upstream.URL
	}
	cfg, err := config.Load(config.WithEnvMap(env), config.WithoutSystemEnv(), config.WithEnvFile(""))
	require.NoError(t, err)

	a, cleanup, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	srv := httptest.NewServer(newRouter(a))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, srv: srv, http: &http.Client{Jar: jar}}
}

func (c *testClient) do(req *http.Request) (*http.Response, []byte) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, body
}

func (c *testClient) get(path string) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

func (c *testClient) postForm(path string, form url.Values) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *testClient) api(method, path, token, body string) (*http.Response, []byte) {
	c.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rdr)
	require.NoError(c.t, err)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	return c.do(req)
}

// page loads the wizard and returns the parsed document and the form token.
func (c *testClient) page() (*goquery.Document, string) {
	c.t.Helper()
	resp, body := c.get("/")
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(body))
	return parse(c.t, body)
}

// step posts form values to path and returns the page the redirect lands on.
func (c *testClient) step(path, token string, values url.Values) *goquery.Document {
	c.t.Helper()
	if values == nil {
		values = url.Values{}
	}
	values.Set("csrf_token", token)
	resp, body := c.postForm(path, values)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(body))
	doc, _ := parse(c.t, body)
	return doc
}

func parse(t *testing.T, body []byte) (*goquery.Document, string) {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	require.NoError(t, err)
	token, _ := doc.Find(`meta[name="csrf-token"]`).Attr("content")
	return doc, token
}

func wizardStep(doc *goquery.Document) string {
	step, _ := doc.Find("#wizard").Attr("data-step")
	return step
}

// recordingBackend answers every calculation with status and body and hands
// each decoded request to seen when it is non-nil.
func recordingBackend(t *testing.T, status int, body string, seen chan<- map[string]any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/simulation/calculate", r.URL.Path)
		if seen != nil {
			var payload map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			seen <- payload
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func TestHealthz(t *testing.T) {
	c := newTestServer(t, nil)
	resp, body := c.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	resp, body = c.get("/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ready"}`, string(body))
}

func TestWizardFullFlow(t *testing.T) {
	requests := make(chan map[string]any, 4)
	c := newTestServer(t, recordingBackend(t, http.StatusOK, `{"annualRevenue":1800000}`, requests))

	doc, token := c.page()
	require.NotEmpty(t, token)
	assert.Equal(t, "landing", wizardStep(doc))

	doc = c.step("/wizard/next", token, nil)
	assert.Equal(t, "region", wizardStep(doc))
	_, disabled := doc.Find("#wizard-next").Attr("disabled")
	assert.True(t, disabled, "next must be disabled until a region is chosen")
	assert.Equal(t, 1, doc.Find(".gate").Length())

	doc = c.step("/wizard/next", token, url.Values{"region": {"東京都"}})
	assert.Equal(t, "property_type", wizardStep(doc))

	doc = c.step("/wizard/next", token, url.Values{"propertyType": {"1LDK"}})
	assert.Equal(t, "rent", wizardStep(doc))
	assert.Equal(t, "100000", doc.Find(`input[name="monthlyRent"]`).AttrOr("value", ""))

	doc = c.step("/wizard/next", token, url.Values{"monthlyRent": {"150000"}})
	assert.Equal(t, "options", wizardStep(doc))

	doc = c.step("/wizard/submit", token, url.Values{
		"furnitureAppliances": {"false", "true"},
	})
	require.Equal(t, "results", wizardStep(doc))
	revenue := doc.Find(`.summary-item[data-key="annualRevenue"] dd`).Text()
	assert.Equal(t, "¥1,800,000", strings.TrimSpace(revenue))
	assert.Equal(t, 3, doc.Find("button.overlay-open").Length())
	assert.Equal(t, 1, doc.Find(".history-item").Length())

	require.Len(t, requests, 1)
	seen := <-requests
	assert.Equal(t, "東京都", seen["region"])
	assert.Equal(t, "1LDK", seen["propertyType"])
	assert.EqualValues(t, 150000, seen["monthlyRent"])
	assert.Equal(t, true, seen["furnitureAppliances"])
	assert.EqualValues(t, 10, seen["managementFeeRate"])

	resp, body := c.api(http.MethodGet, "/api/v1/wizard/state", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state struct {
		State struct {
			Step   int            `json:"step"`
			Result map[string]any `json:"result"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, 5, state.State.Step)
	assert.EqualValues(t, 1800000, state.State.Result["annualRevenue"])
}

func TestWizardOverlayLifecycle(t *testing.T) {
	c := newTestServer(t, recordingBackend(t, http.StatusOK, `{"annualRevenue":1800000}`, nil))
	_, token := c.page()
	c.step("/wizard/next", token, nil)
	c.step("/wizard/next", token, url.Values{"region": {"東京都"}})
	c.step("/wizard/next", token, url.Values{"propertyType": {"1LDK"}})
	c.step("/wizard/next", token, nil)
	c.step("/wizard/submit", token, nil)

	doc := c.step("/wizard/overlay/messaging", token, nil)
	panel := doc.Find(`.overlay[data-overlay="messaging"]`)
	require.Equal(t, 1, panel.Length())
	assert.Contains(t, panel.AttrOr("data-result", ""), "1800000")

	doc = c.step("/wizard/overlay/close", token, nil)
	assert.Equal(t, 0, doc.Find(".overlay").Length())
	assert.Equal(t, "results", wizardStep(doc))

	resp, _ := c.postForm("/wizard/overlay/bogus", url.Values{"csrf_token": {token}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWizardSubmissionFailureStaysOnOptions(t *testing.T) {
	c := newTestServer(t, recordingBackend(t, http.StatusInternalServerError, `{"error":"boom"}`, nil))
	_, token := c.page()
	c.step("/wizard/next", token, nil)
	c.step("/wizard/next", token, url.Values{"region": {"大阪府"}})
	c.step("/wizard/next", token, url.Values{"propertyType": {"1K"}})
	c.step("/wizard/next", token, nil)

	doc := c.step("/wizard/submit", token, nil)
	assert.Equal(t, "options", wizardStep(doc))
	assert.Contains(t, doc.Find(".alert").Text(), "シミュレーションに失敗しました")
	_, disabled := doc.Find("#wizard-submit").Attr("disabled")
	assert.False(t, disabled, "submit must be re-enabled after a failure")

	resp, body := c.api(http.MethodPost, "/api/v1/wizard/submit", token, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), `"simulation_failed"`)
}

func TestWizardRejectsMissingCSRF(t *testing.T) {
	c := newTestServer(t, nil)
	c.page()
	resp, _ := c.postForm("/wizard/next", url.Values{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := c.api(http.MethodPost, "/api/v1/wizard/advance", "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), `"csrf_invalid"`)
}

func TestWizardAPIErrors(t *testing.T) {
	c := newTestServer(t, nil)
	resp, _ := c.api(http.MethodGet, "/api/v1/wizard/state", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := resp.Header.Get("X-CSRF-Token")
	require.NotEmpty(t, token)

	resp, _ = c.api(http.MethodPost, "/api/v1/wizard/advance", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.api(http.MethodPost, "/api/v1/wizard/advance", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), `"step_incomplete"`)

	resp, body = c.api(http.MethodPatch, "/api/v1/wizard/fields", token, `{"monthlyRent":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"invalid_field"`)

	resp, body = c.api(http.MethodPatch, "/api/v1/wizard/fields", token, `{"monthlyRent":900000,"region":"北海道"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state struct {
		State struct {
			Input struct {
				Region      string `json:"region"`
				MonthlyRent int64  `json:"monthlyRent"`
			} `json:"input"`
		} `json:"state"`
		Derived struct {
			CanAdvance bool `json:"canAdvance"`
		} `json:"derived"`
	}
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, int64(500000), state.State.Input.MonthlyRent)
	assert.Equal(t, "北海道", state.State.Input.Region)
	assert.True(t, state.Derived.CanAdvance)

	resp, body = c.api(http.MethodPost, "/api/v1/wizard/overlay", token, `{"overlay":"messaging"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), `"overlay_unavailable"`)

	resp, _ = c.api(http.MethodGet, "/api/v1/wizard/history/latest", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = c.api(http.MethodGet, "/api/v1/wizard/history?limit=0", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWizardEnglishLocale(t *testing.T) {
	c := newTestServer(t, nil)
	resp, body := c.get("/?hl=en")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, _ := parse(t, body)
	assert.Equal(t, "en", doc.Find("html").AttrOr("lang", ""))

	resp, body = c.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, _ = parse(t, body)
	assert.Equal(t, "en", doc.Find("html").AttrOr("lang", ""), "locale choice persists in the session")
}

func TestWizardSessionPersistsWithHashKeyOnly(t *testing.T) {
	c := newTestServer(t, nil)
	resp, _ := c.api(http.MethodGet, "/api/v1/wizard/state", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := resp.Header.Get("X-CSRF-Token")
	require.NotEmpty(t, first)

	base, err := url.Parse(c.srv.URL)
	require.NoError(t, err)
	var cookie *http.Cookie
	for _, ck := range c.http.Jar.Cookies(base) {
		if ck.Name == "minpaku_session" {
			cookie = ck
		}
	}
	require.NotNil(t, cookie, "session cookie must be issued")

	resp, _ = c.api(http.MethodGet, "/api/v1/wizard/state", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first, resp.Header.Get("X-CSRF-Token"), "the same session must be restored")

	resp, _ = c.api(http.MethodPost, "/api/v1/wizard/advance", first, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWizardSubmitBeforeOptionsIsRejected(t *testing.T) {
	requests := make(chan map[string]any, 1)
	c := newTestServer(t, recordingBackend(t, http.StatusOK, `{"annualRevenue":1}`, requests))
	resp, _ := c.api(http.MethodGet, "/api/v1/wizard/state", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := resp.Header.Get("X-CSRF-Token")

	resp, body := c.api(http.MethodPost, "/api/v1/wizard/submit", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), `"step_incomplete"`)
	assert.Contains(t, string(body), `"region"`)

	_, token = c.page()
	resp, _ = c.postForm("/wizard/submit", url.Values{"csrf_token": {token}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, requests, "the backend must not be called")
}
