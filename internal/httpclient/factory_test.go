package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectClient(t *testing.T) {
	client, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestNewRejectsBadProxyURL(t *testing.T) {
	_, err := New(Options{Timeout: time.Second, ProxyURL: "http://bad url with spaces"})
	assert.Error(t, err)
}

func TestTesterClientDoesNotFollowRedirects(t *testing.T) {
	redirects := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			redirects++
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(TesterOptions("", 2*time.Second))
	require.NoError(t, err)

	resp, err := client.Get(srv.URL + "/start")
	require.NoError(t, err)
	defer CloseBody(resp)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, 1, redirects)
}

func TestCloseBodyNil(t *testing.T) {
	// Must tolerate nil responses from failed requests.
	CloseBody(nil)
}
