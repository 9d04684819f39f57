package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := NewHTTPClient(Config{BaseURL: ts.URL + "/api/v2", RequestsPerSecond: 1000, Burst: 100})
	require.NoError(t, err)
	return c, ts
}

func TestHTTPClient_GetJoinsBaseAndParams(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/incident/x", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))

	body, err := c.Get(context.Background(), "/incident/x", url.Values{"page": {"1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x"}`, string(body))
}

func TestHTTPClient_PostSendsJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"userName":"a","token":"b"}`, string(b))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	body, err := c.Post(context.Background(), "auth/session", map[string]string{"userName": "a", "token": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHTTPClient_EmptyBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	body, err := c.Delete(context.Background(), "/auth/session")
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestHTTPClient_ErrorShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantData bool
	}{
		{name: "validation", status: http.StatusBadRequest, body: `[{"property":"userName","rule":"Required"}]`, wantData: true},
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"expired"}`, wantData: true},
		{name: "unparsable", status: http.StatusNotFound, body: `<html>`, wantData: false},
		{name: "internal", status: http.StatusInternalServerError, body: `{"message":"boom"}`, wantData: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))

			_, err := c.Get(context.Background(), "/x", nil)
			require.Error(t, err)

			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.status, te.Status)
			assert.Equal(t, http.StatusText(tc.status), te.StatusText)
			if tc.wantData {
				assert.JSONEq(t, tc.body, string(te.Data))
			} else {
				assert.Nil(t, te.Data)
			}
			assert.False(t, IsNetworkError(err))
		})
	}
}

func TestHTTPClient_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c, err := NewHTTPClient(Config{BaseURL: base})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/auth/session", nil)
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, 0, StatusOf(err))
}

func TestHTTPClient_CancelledIsNotNetwork(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "/slow", nil)
	require.Error(t, err)
	assert.False(t, IsNetworkError(err))
}

func TestHTTPClient_GetPage(t *testing.T) {
	c, ts := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<`+"http://"+r.Host+`/api/v2/notice?page=3>; rel="next", <`+"http://"+r.Host+`/api/v2/notice?page=1>; rel="previous"`)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"databaseId": "n1"}})
	}))

	page, err := c.GetPage(context.Background(), "/notice", url.Values{"page": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/api/v2/notice?page=3", page.Next)
	assert.Equal(t, ts.URL+"/api/v2/notice?page=1", page.Prev)
	assert.JSONEq(t, `[{"databaseId":"n1"}]`, string(page.JSON))
}

func TestNewHTTPClient_RejectsBadScheme(t *testing.T) {
	_, err := NewHTTPClient(Config{BaseURL: "ftp://prisma"})
	assert.Error(t, err)
}

func TestIsNetworkError_MessagePattern(t *testing.T) {
	assert.True(t, IsNetworkError(errors.New("TypeError: Failed to fetch")))
	assert.False(t, IsNetworkError(errors.New("something else")))
	assert.False(t, IsNetworkError(nil))
}
