package businesscard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// DefaultFetchTimeout bounds a single business-card request.
const DefaultFetchTimeout = 30 * time.Second

// HTTPProviderConfig configures the HTTP business-card provider.
type HTTPProviderConfig struct {
	// BaseURL is the provider root, e.g. "https://smp.example.com".
	BaseURL string

	// Timeout is the per-request timeout. Defaults to DefaultFetchTimeout.
	Timeout time.Duration

	// Retry configures transport-level retries for transient failures.
	Retry pderrors.RetryConfig
}

// HTTPProvider fetches business cards as JSON documents over HTTP:
// GET <base>/businesscard/<percent-encoded participant>. A 404 means the
// provider has nothing published for the participant.
type HTTPProvider struct {
	client *http.Client
	config HTTPProviderConfig
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = pderrors.DefaultRetryConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// wireCard is the JSON shape on the wire. Identifiers arrive as canonical
// strings and are parsed into typed identifiers; unparsable doctype entries
// are reported through the collector and skipped.
type wireCard struct {
	Participant string           `json:"participant"`
	Entities    []BusinessEntity `json:"entities"`
	DocTypes    []string         `json:"doctypes"`
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, id identifier.ParticipantID, errs ErrorCollector) (*BusinessCard, error) {
	url := fmt.Sprintf("%s/businesscard/%s", p.config.BaseURL, id.URLPercentEncoded())

	var body []byte
	var absent bool

	err := pderrors.Retry(ctx, p.config.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return pderrors.Wrap(pderrors.ErrCodeProviderUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			absent = true
			return nil
		case resp.StatusCode >= 500:
			return pderrors.New(pderrors.ErrCodeProviderUnavailable,
				fmt.Sprintf("provider returned %d for %s", resp.StatusCode, id), nil)
		case resp.StatusCode != http.StatusOK:
			return pderrors.New(pderrors.ErrCodeProviderNoData,
				fmt.Sprintf("provider returned %d for %s", resp.StatusCode, id), nil)
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if absent {
		return nil, nil
	}

	var wire wireCard
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeProviderNoData, err)
	}

	card := &BusinessCard{
		Participant: id,
		Entities:    wire.Entities,
	}

	// The provider echoes the participant; a mismatch is suspicious but the
	// requested identifier wins.
	if wire.Participant != "" && wire.Participant != id.String() {
		if errs != nil {
			errs.Add(fmt.Sprintf("provider returned card for %q, requested %q", wire.Participant, id))
		}
	}

	for _, s := range wire.DocTypes {
		dt, err := identifier.ParseDocTypeID(s)
		if err != nil {
			if errs != nil {
				errs.Add(fmt.Sprintf("skipping unparsable document type %q: %v", s, err))
			}
			continue
		}
		card.DocTypes = append(card.DocTypes, dt)
	}

	return card, nil
}
