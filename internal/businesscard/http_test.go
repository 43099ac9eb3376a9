package businesscard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

func fastRetry() pderrors.RetryConfig {
	return pderrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
}

func TestHTTPProvider_Fetch_ParsesCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/businesscard/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"participant": "iso6523-actorid-upis::0088:123456",
			"entities": [{
				"names": [{"name": "Acme Corp"}],
				"countrycode": "BE",
				"identifiers": [{"scheme": "vat", "value": "BE0123456789"}]
			}],
			"doctypes": ["busdox-docid-qns::urn:invoice", "garbage"]
		}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Retry: fastRetry()})
	errs := NewCollectingErrorHandler()

	card, err := p.Fetch(context.Background(), identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456"), errs)
	require.NoError(t, err)
	require.NotNil(t, card)

	require.Len(t, card.Entities, 1)
	assert.Equal(t, "Acme Corp", card.Entities[0].Names[0].Name)
	assert.Equal(t, "BE", card.Entities[0].CountryCode)

	// Unparsable doctype is skipped with a diagnostic, not an error
	require.Len(t, card.DocTypes, 1)
	assert.Equal(t, "busdox-docid-qns::urn:invoice", card.DocTypes[0].String())
	assert.True(t, errs.HasMessages())
}

func TestHTTPProvider_Fetch_NotFoundIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Retry: fastRetry()})

	card, err := p.Fetch(context.Background(), identifier.NewParticipantID("s", "v"), nil)
	require.NoError(t, err)
	assert.Nil(t, card, "404 means absent, not error")
}

func TestHTTPProvider_Fetch_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"entities": [{"names": [{"name": "Late Corp"}]}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, Retry: fastRetry()})

	card, err := p.Fetch(context.Background(), identifier.NewParticipantID("s", "v"), nil)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, 2, calls)
}

func TestHTTPProvider_Fetch_UnreachableIsRetryableError(t *testing.T) {
	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: "http://127.0.0.1:1", Retry: fastRetry()})

	_, err := p.Fetch(context.Background(), identifier.NewParticipantID("s", "v"), nil)
	require.Error(t, err)
	assert.True(t, pderrors.IsRetryable(err))
}

func TestCollectingErrorHandler_Order(t *testing.T) {
	c := NewCollectingErrorHandler()
	c.Add("first")
	c.Add("second")

	assert.Equal(t, []string{"first", "second"}, c.Messages())
}
