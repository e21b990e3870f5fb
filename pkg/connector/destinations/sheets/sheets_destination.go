// Package sheets implements the Google Sheets sink: one values.append call per
// record over an HTTP client authenticated with a service-account JWT.
package sheets

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ajitpratap0/nebula-sheets/pkg/clients"
	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
	"github.com/ajitpratap0/nebula-sheets/pkg/models"
)

const connectorVersion = "1.0.0"

// SheetsSink opens authenticated connections to the Sheets API.
type SheetsSink struct {
	name     string
	config   config.SheetsConfig
	timeouts config.TimeoutConfig
	http     *clients.HTTPConfig
	limiter  core.RateLimiter
	logger   *zap.Logger
}

// NewSheetsSink creates a sink from the connector configuration. Secrets are
// not resolved here; every Connect resolves them again.
func NewSheetsSink(cfg *config.ConnectorConfig, logger *zap.Logger) (*SheetsSink, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "sheets sink requires a configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.EnableHTTP2 = cfg.Sheets.EnableHTTP2
	httpCfg.UserAgent = "nebula-sheets/" + connectorVersion
	if cfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = cfg.Timeouts.Request
	}

	s := &SheetsSink{
		name:     cfg.Name,
		config:   cfg.Sheets,
		timeouts: cfg.Timeouts,
		http:     httpCfg,
		logger:   logger.With(zap.String("component", "sheets_sink")),
	}
	if cfg.Sheets.RateLimitPerSec > 0 {
		s.limiter = newLimiter(cfg.Sheets.RateLimitPerSec)
	}
	return s, nil
}

// newLimiter paces appends at perSec with a burst of one second's worth,
// and never less than one call.
func newLimiter(perSec float64) *rate.Limiter {
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// Connect implements core.Sink. It resolves credentials, fetches an access
// token and builds the API client. There is no retry here.
func (s *SheetsSink) Connect(ctx context.Context) (core.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	creds, err := s.config.ResolveCredentials()
	if err != nil {
		return nil, err
	}

	transport := clients.NewTransport(s.http, s.logger)
	rt := clients.InstrumentRoundTripper(clients.WithUserAgent(transport, s.http.UserAgent), s.name)

	jwtConfig := &jwt.Config{
		Email:      creds.ClientEmail,
		PrivateKey: creds.PrivateKey,
		TokenURL:   creds.TokenURL,
		Scopes:     s.config.Scopes,
	}

	// The token source outlives this call, so it must not inherit ctx's
	// cancellation; the handshake itself is bounded below.
	tokenClient := &http.Client{Transport: rt, Timeout: s.timeouts.Connection}
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, tokenClient)
	tokens := jwtConfig.TokenSource(tokenCtx)

	if err := s.handshake(ctx, tokens); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}

	apiClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: rt},
		Timeout:   s.http.RequestTimeout,
	}

	opts := []option.ClientOption{option.WithHTTPClient(apiClient)}
	if s.config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.config.Endpoint))
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create sheets service")
	}

	s.logger.Debug("connected to sheets api",
		zap.String("client_email", creds.ClientEmail),
		zap.String("endpoint", s.config.Endpoint))

	return &Connection{
		values:           svc.Spreadsheets.Values,
		transport:        transport,
		limiter:          s.limiter,
		valueInputOption: s.config.ValueInputOption,
		insertDataOption: s.config.InsertDataOption,
	}, nil
}

func (s *SheetsSink) handshake(ctx context.Context, tokens oauth2.TokenSource) error {
	done := make(chan error, 1)
	go func() {
		_, err := tokens.Token()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeAuthentication, "oauth2 token handshake failed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connection is a live Sheets API client owned by a single caller.
type Connection struct {
	values    *sheetsapi.SpreadsheetsValuesService
	transport *http.Transport
	limiter   core.RateLimiter
	closed    atomic.Bool

	valueInputOption string
	insertDataOption string
}

// Deliver implements core.Connection. Every remote failure is reported as a
// rejected Outcome; only misuse returns an error.
func (c *Connection) Deliver(ctx context.Context, record *models.Record) (core.Outcome, error) {
	if c == nil || c.values == nil {
		return core.Outcome{}, errors.New(errors.ErrorTypeInternal, "deliver on nil connection")
	}
	if c.closed.Load() {
		return core.Outcome{}, errors.New(errors.ErrorTypeInternal, "deliver on closed connection")
	}
	if record == nil {
		return core.Outcome{}, errors.New(errors.ErrorTypeInternal, "deliver called with nil record")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return core.Rejected(Classify(err), err), nil
		}
	}

	body := &sheetsapi.ValueRange{
		Values:         record.Values,
		MajorDimension: record.MajorDimension,
	}

	call := c.values.Append(record.SpreadsheetID, record.Range, body).
		IncludeValuesInResponse(false).
		Context(ctx)
	if c.valueInputOption != "" {
		call = call.ValueInputOption(c.valueInputOption)
	}
	if c.insertDataOption != "" {
		call = call.InsertDataOption(c.insertDataOption)
	}

	resp, err := call.Do()
	if err != nil {
		return core.Rejected(Classify(err), err), nil
	}

	out := core.Delivered(resp.HTTPStatusCode, "", 0, 0)
	if resp.Updates != nil {
		out.UpdatedRange = resp.Updates.UpdatedRange
		out.UpdatedRows = resp.Updates.UpdatedRows
		out.UpdatedCells = resp.Updates.UpdatedCells
	}
	return out, nil
}

// Close releases idle connections. Deliver fails after Close.
func (c *Connection) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

// Version returns the sink version reported by the CLI.
func Version() string {
	return connectorVersion
}

var _ core.Sink = (*SheetsSink)(nil)
var _ core.Connection = (*Connection)(nil)

