package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luca-patrignani/feedchain/ledger"
)

const DefaultRetryInterval = 200 * time.Millisecond

// MaxChainSize is the largest chain response a Client reads by default. It
// fits about forty blocks carrying media at the size limit.
const MaxChainSize = 256 << 20

// ErrChainTooLarge is returned when a peer sends more than the size limit.
var ErrChainTooLarge = errors.New("chain response too large")

// Client talks to the Peer at URL.
type Client struct {
	URL           string
	client        *http.Client
	timeout       time.Duration
	retryInterval time.Duration
	maxChainSize  int64
}

type clientOption func(Client) Client

// NewClient creates a Client for the peer at baseURL. A missing scheme
// defaults to http.
func NewClient(baseURL string, opts ...clientOption) Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := Client{
		URL:           strings.TrimRight(baseURL, "/"),
		client:        &http.Client{},
		retryInterval: DefaultRetryInterval,
		maxChainSize:  MaxChainSize,
	}
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

// WithTimeout sets how long FetchChain keeps retrying. Zero means a single
// attempt.
func WithTimeout(timeout time.Duration) clientOption {
	return func(c Client) Client {
		c.timeout = timeout
		return c
	}
}

func WithRetryInterval(interval time.Duration) clientOption {
	return func(c Client) Client {
		c.retryInterval = interval
		return c
	}
}

// WithMaxChainSize limits how many bytes of a chain response are read.
func WithMaxChainSize(n int64) clientOption {
	return func(c Client) Client {
		c.maxChainSize = n
		return c
	}
}

// WithRootCAs makes the Client trust only certPool and switches it to https.
func WithRootCAs(certPool *x509.CertPool) clientOption {
	return func(c Client) Client {
		c.client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: certPool},
			},
		}
		c.URL = "https://" + strings.TrimPrefix(strings.TrimPrefix(c.URL, "http://"), "https://")
		return c
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// FetchChain downloads the peer's chain, retrying until the timeout expires.
// A response that cannot be decoded is not retried.
func (c Client) FetchChain(ctx context.Context) ([]ledger.Block, error) {
	start := time.Now()
	chain, err := c.fetchOnce(ctx)
	for err != nil {
		var perm permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}
		if c.timeout <= 0 {
			return nil, err
		}
		if time.Since(start) > c.timeout {
			return nil, fmt.Errorf("fetch attempts timed out: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		case <-time.After(c.retryInterval):
		}
		chain, err = c.fetchOnce(ctx)
	}
	return chain, nil
}

func (c Client) fetchOnce(ctx context.Context) ([]ledger.Block, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+ChainPath, nil)
	if err != nil {
		return nil, permanentError{err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxChainSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxChainSize {
		return nil, permanentError{fmt.Errorf("%w: %s sent more than %d bytes", ErrChainTooLarge, c.URL, c.maxChainSize)}
	}
	chain, err := ledger.DecodeChain(data)
	if err != nil {
		return nil, permanentError{fmt.Errorf("malformed response from %s: %w", c.URL, err)}
	}
	return chain, nil
}

// Ping checks once that the peer answers on its chain endpoint.
func (c Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL+ChainPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	if err := resp.Body.Close(); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return nil
}
