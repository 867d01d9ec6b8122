package delivery

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/fault"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

func upstreamFailure(err error) error {
	return fault.Wrap(err, fault.BadGateway, fault.UpstreamFailure, "upstream storage unavailable")
}

// HTTPSource proxies http(s) origins such as an R2 public bucket.
type HTTPSource struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPClient returns a client for streaming upstreams. There is no
// overall timeout because bodies may be large; timeout bounds connecting
// and waiting for response headers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func (s *HTTPSource) Open(ctx context.Context, loc catalog.Location) (Stream, error) {
	if loc.URL == nil {
		return nil, xerrors.New("http source given a location without URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL.String(), nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Accept-Encoding", "identity")
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, upstreamFailure(xerrors.Wrapf(err, "GET %s", loc.URL.Redacted()))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, upstreamFailure(xerrors.Newf("GET %s: upstream status %d", loc.URL.Redacted(), resp.StatusCode))
	}
	return sizedStream{ReadCloser: resp.Body, size: resp.ContentLength}, nil
}
