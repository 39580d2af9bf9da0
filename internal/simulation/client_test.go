package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func sampleRequest() Request {
	return Request{
		Region:              "東京都",
		PropertyType:        "1LDK",
		MonthlyRent:         150000,
		FurnitureAppliances: true,
		RenovationCost:      0,
		ManagementFeeRate:   10,
		CleaningFee:         0,
	}
}

func TestCalculatePostsInputAndReturnsPayload(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"annualRevenue":1800000,"roi":12.5,"notes":["x"]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	require.False(t, client.Demo())

	result, err := client.Calculate(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/simulation/calculate", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "東京都", gotBody["region"])
	assert.Equal(t, "1LDK", gotBody["propertyType"])
	assert.EqualValues(t, 150000, gotBody["monthlyRent"])
	assert.Equal(t, true, gotBody["furnitureAppliances"])
	assert.EqualValues(t, 10, gotBody["managementFeeRate"])
	assert.Contains(t, gotBody, "cleaningFee")
	assert.Len(t, gotBody, 7)

	revenue, ok := result.Number(KeyAnnualRevenue)
	require.True(t, ok)
	assert.Equal(t, 1800000.0, revenue)
	assert.JSONEq(t, `{"annualRevenue":1800000,"roi":12.5,"notes":["x"]}`, string(result.Raw()))
	assert.False(t, result.IsDemo())
}

func TestCalculateNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Calculate(context.Background(), sampleRequest())
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestCalculateMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":  `<html>oops</html>`,
		"array":     `[1,2,3]`,
		"scalar":    `42`,
		"empty":     ``,
		"truncated": `{"annualRevenue":`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Calculate(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "got %v", err)
		})
	}
}

func TestCalculateHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Calculate(ctx, sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestCalculateTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Calculate(context.Background(), sampleRequest())
	require.Error(t, err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
	assert.False(t, IsMalformed(err))
}

func TestDemoClientEchoesInput(t *testing.T) {
	client := NewClient("")
	require.True(t, client.Demo())

	result, err := client.Calculate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, result.IsDemo())
	rent, ok := result.Number("monthlyRent")
	require.True(t, ok)
	assert.Equal(t, 150000.0, rent)
	_, ok = result.Number(KeyAnnualRevenue)
	assert.False(t, ok)
}

func TestResultJSONRoundTripKeepsBytes(t *testing.T) {
	type wrapper struct {
		Result Result `json:"result"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"result":{"b":1,"a":[true]}}`), &w))
	require.False(t, w.Result.IsZero())
	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, `{"result":{"b":1,"a":[true]}}`, string(out))

	var empty wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"result":null}`), &empty))
	assert.True(t, empty.Result.IsZero())
	out, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, `{"result":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"result":[1]}`), &empty))
}

type countingCounter struct {
	noop.Int64Counter
	mu       sync.Mutex
	outcomes []string
}

func (c *countingCounter) Add(_ context.Context, _ int64, opts ...metric.AddOption) {
	cfg := metric.NewAddConfig(opts)
	attrs := cfg.Attributes()
	v, _ := attrs.Value("outcome")
	c.mu.Lock()
	c.outcomes = append(c.outcomes, v.AsString())
	c.mu.Unlock()
}

type countingMeter struct {
	noop.Meter
	requests *countingCounter
}

func (m countingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return m.requests, nil
}

func TestCalculateRecordsOutcomeMetrics(t *testing.T) {
	replies := []func(http.ResponseWriter){
		func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"annualRevenue":1}`)) },
		func(w http.ResponseWriter) { http.Error(w, "boom", http.StatusBadGateway) },
		func(w http.ResponseWriter) { _, _ = w.Write([]byte(`[]`)) },
	}
	var call atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replies[call.Add(1)-1](w)
	}))
	defer srv.Close()

	counter := &countingCounter{}
	client := NewClient(srv.URL, WithMeter(countingMeter{requests: counter}))
	for range replies {
		_, _ = client.Calculate(context.Background(), sampleRequest())
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.Equal(t, []string{"ok", "status", "malformed"}, counter.outcomes)
}
