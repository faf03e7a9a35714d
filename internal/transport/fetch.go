package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenk/backoff"

	"github.com/polypm-dev/polypm/internal/pmerr"
)

// FetchJSON performs an HTTP GET with one transient-error retry (5xx or
// network failure, 500ms initial backoff per spec.md §4.2) guarded by a
// per-host circuit breaker, then decodes the JSON body into out.
func FetchJSON(ctx context.Context, client *http.Client, breakers *BreakerGroup, url, ecosystem, name, userAgent string, out any) error {
	var body []byte

	fetchOnce := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(pmerr.New(pmerr.NotFound, ecosystem, name, nil).WithRegistry(url))
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("server error %d from %s", resp.StatusCode, url)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(pmerr.New(pmerr.BadMetadata, ecosystem, name,
				fmt.Errorf("unexpected status %d", resp.StatusCode)).WithRegistry(url))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err // truncated read is treated as transient
		}

		body = b

		return nil
	}

	err := breakers.Call(url, ecosystem, name, func() error {
		return backoff.Retry(fetchOnce, RetryBackoff())
	})
	if err != nil {
		var pe *pmerr.Error
		if errors.As(err, &pe) {
			return pe
		}

		return pmerr.New(pmerr.RegistryUnavailable, ecosystem, name, err).WithRegistry(url)
	}

	if jsonErr := json.Unmarshal(body, out); jsonErr != nil {
		return pmerr.New(pmerr.BadMetadata, ecosystem, name, jsonErr).WithRegistry(url)
	}

	return nil
}

// FetchBytes performs an HTTP GET and returns the raw body, used for
// downloading tarballs/wheels where the 120s timeout applies (caller sets
// it on the http.Client).
func FetchBytes(ctx context.Context, client *http.Client, breakers *BreakerGroup, url, ecosystem, name, userAgent string) ([]byte, error) {
	var body []byte

	fetchOnce := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(pmerr.New(pmerr.NotFound, ecosystem, name, nil).WithRegistry(url))
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("server error %d from %s", resp.StatusCode, url)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(pmerr.New(pmerr.BadMetadata, ecosystem, name,
				fmt.Errorf("unexpected status %d", resp.StatusCode)).WithRegistry(url))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		body = b

		return nil
	}

	err := breakers.Call(url, ecosystem, name, func() error {
		return backoff.Retry(fetchOnce, RetryBackoff())
	})
	if err != nil {
		var pe *pmerr.Error
		if errors.As(err, &pe) {
			return nil, pe
		}

		return nil, pmerr.New(pmerr.RegistryUnavailable, ecosystem, name, err).WithRegistry(url)
	}

	return body, nil
}
