package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/requests", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "0x0102", payload["seed"])
		assert.EqualValues(t, 2, payload["num_words"])

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"request_id": 42}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL+"/v2", "key", nil)
	require.NoError(t, err)

	id, err := client.Submit(context.Background(), domain.Request{Seed: []byte{1, 2}, NumWords: 2})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestHTTPClientSubmitErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	require.NoError(t, err)
	_, err = client.Submit(context.Background(), domain.Request{NumWords: 1})
	assert.ErrorContains(t, err, "missing request_id")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "subscription underfunded", http.StatusPaymentRequired)
	}))
	defer down.Close()
	client, _ = NewHTTPClient(down.Client(), down.URL, "", nil)
	_, err = client.Submit(context.Background(), domain.Request{NumWords: 1})
	assert.ErrorContains(t, err, "status 402")
}

func TestNewHTTPClientValidatesEndpoint(t *testing.T) {
	_, err := NewHTTPClient(nil, "", "", nil)
	assert.Error(t, err)
	_, err = NewHTTPClient(nil, "ftp://oracle", "", nil)
	assert.Error(t, err)
}

func TestHTTPClientResolve(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/requests/req-1", r.URL.Path)
		switch calls {
		case 1:
			w.Write([]byte(`{"done": false, "retry_after_seconds": 0.1}`))
		case 2:
			w.Write([]byte(`{"done": true, "success": true, "random_words": ["0xff", "77", 5]}`))
		case 3:
			w.Write([]byte(`{"done": true, "success": false, "error": "subscription cancelled"}`))
		default:
			t.Fatalf("unexpected call count: %d", calls)
		}
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := client.Resolve(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Greater(t, int64(res.RetryAfter), int64(0))

	res, err = client.Resolve(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, res.Done && res.Success)
	require.Len(t, res.Words, 3)
	assert.Equal(t, int64(255), res.Words[0].Int64())
	assert.Equal(t, int64(77), res.Words[1].Int64())
	assert.Equal(t, int64(5), res.Words[2].Int64())

	res, err = client.Resolve(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.False(t, res.Success)
	assert.Equal(t, "subscription cancelled", res.Error)
}

func TestHTTPClientResolveRejectsBadWords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"done": true, "success": true, "random_words": ["banana"]}`))
	}))
	defer server.Close()

	client, _ := NewHTTPClient(server.Client(), server.URL, "", nil)
	_, err := client.Resolve(context.Background(), "x")
	assert.ErrorContains(t, err, "invalid random word")
}
