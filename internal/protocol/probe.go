package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// Prober checks that the service endpoint exists before a socket is opened
type Prober interface {
	Probe(ctx context.Context, target string, header http.Header) error
}

// HTTPProber issues a HEAD request against the service's HTTP address
type HTTPProber struct {
	client *http.Client
	logger *logging.Logger
}

// NewHTTPProber creates a prober whose requests time out after timeout
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
			},
		},
		logger: logging.GetTransportLogger(),
	}
}

// Probe succeeds on any response below 400
func (p *HTTPProber) Probe(ctx context.Context, target string, header http.Header) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return &ProtocolError{
			Type:          ErrorTypeAvailability,
			Message:       fmt.Sprintf("invalid probe address %s", target),
			Hint:          "Check the endpoint configured for this profile",
			OriginalError: err,
			Timestamp:     time.Now(),
		}
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		perr := &ProtocolError{
			Type:          ErrorTypeAvailability,
			Message:       fmt.Sprintf("service at %s is unreachable", target),
			Hint:          classifyNetworkError(err),
			OriginalError: err,
			Timestamp:     time.Now(),
			Recoverable:   true,
		}
		p.logger.LogProbeResult(target, 0, time.Since(start), perr)
		return perr
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		perr := &ProtocolError{
			Type:        ErrorTypeAvailability,
			Message:     fmt.Sprintf("service at %s answered HTTP %d", target, resp.StatusCode),
			Hint:        statusHint(resp.StatusCode),
			StatusCode:  resp.StatusCode,
			Timestamp:   time.Now(),
			Recoverable: resp.StatusCode >= 500,
		}
		p.logger.LogProbeResult(target, resp.StatusCode, time.Since(start), perr)
		return perr
	}

	p.logger.LogProbeResult(target, resp.StatusCode, time.Since(start), nil)
	return nil
}

// classifyNetworkError turns a dial failure into an actionable hint
func classifyNetworkError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "The service did not answer in time; check that it is running and reachable"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("Host %q could not be resolved; check the endpoint hostname", dnsErr.Name)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "Connection refused; start the service or correct the endpoint port"
	case strings.Contains(msg, "certificate"):
		return "TLS verification failed; check the server certificate"
	default:
		return "Check that the service is running and the endpoint is correct"
	}
}

func statusHint(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "The service rejected the credentials; update the profile's auth token"
	case status == http.StatusNotFound:
		return "Nothing is served at this address; check the endpoint path"
	case status >= 500:
		return "The service reported an internal failure; retry shortly"
	default:
		return "The service refused the availability check"
	}
}

// DeriveProbeURL maps a ws/wss endpoint to the http/https root of the same host
func DeriveProbeURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ProbeTarget returns the profile's probe address, derived from the endpoint when unset
func ProbeTarget(profile *interfaces.Profile) (string, error) {
	if profile.ProbeURL != "" {
		return profile.ProbeURL, nil
	}
	derived, err := DeriveProbeURL(profile.Endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive probe address: %w", err)
	}
	return derived, nil
}

// probeFailureEnvelope is the synthetic error event delivered to message subscribers
// when the availability probe fails.
func probeFailureEnvelope(err error) *interfaces.Envelope {
	env := &interfaces.Envelope{
		Type:      interfaces.TypeError,
		ErrorType: "HTTPError",
		Title:     err.Error(),
		Hint:      "Check that the service is running and the endpoint is correct",
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		env.Title = perr.Message
		if perr.Hint != "" {
			env.Hint = perr.Hint
		}
	}
	return env
}
