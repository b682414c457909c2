package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/internal/postcall"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

const (
	defaultTwilioAPIBase = "https://api.twilio.com"
	twilioAPIVersion     = "2010-04-01"
	maxRecordingBytes    = 50 << 20
)

// TwilioConfig holds REST credentials. AuthToken must never be logged.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// APIBaseURL redirects requests meant for https://api.twilio.com (tests, proxies).
	APIBaseURL string
	// CallsPerSecond paces outbound call creation. Zero disables pacing.
	CallsPerSecond float64
	HTTPTimeout    time.Duration
}

// TwilioClient places calls and resolves recordings through the Twilio SDK.
// Recording media is not exposed by the SDK and is fetched with the same HTTP client.
type TwilioClient struct {
	cfg     TwilioConfig
	rest    *twilio.RestClient
	http    *http.Client
	limiter *rate.Limiter

	maxRecording int64
}

func NewTwilioClient(cfg TwilioConfig, httpClient *http.Client) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: twilio credentials are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("telephony: twilio from number is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.APIBaseURL != "" && cfg.APIBaseURL != defaultTwilioAPIBase {
		target, err := url.Parse(cfg.APIBaseURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("telephony: invalid twilio api base url %q", cfg.APIBaseURL)
		}
		redirected := *httpClient
		redirected.Transport = rebaseTransport{target: target, next: httpClient.Transport}
		httpClient = &redirected
	}

	sdk := &client.Client{
		Credentials: client.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  httpClient,
	}
	sdk.SetAccountSid(cfg.AccountSID)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CallsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1)
	}
	return &TwilioClient{
		cfg:     cfg,
		rest:    twilio.NewRestClientWithParams(twilio.ClientParams{Client: sdk}),
		http:    httpClient,
		limiter: limiter,

		maxRecording: maxRecordingBytes,
	}, nil
}

func (c *TwilioClient) Name() string { return "twilio" }

// PlaceCall creates an outbound call with recording enabled and status callbacks
// for initiated, ringing, answered and completed.
func (c *TwilioClient) PlaceCall(ctx context.Context, to, instructionURL, statusURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperr.TransientIO("wait for call pacing", err)
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.cfg.FromNumber)
	params.SetUrl(instructionURL)
	params.SetMethod(http.MethodPost)
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackMethod(http.MethodPost)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetRecord(true)

	call, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", mapTwilioError("create call", err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return "", apperr.Provider("twilio returned no call sid", nil)
	}
	return *call.Sid, nil
}

// FetchRecording returns the first recording of a call, or ok=false when there is none.
func (c *TwilioClient) FetchRecording(ctx context.Context, providerCallID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, apperr.TransientIO("list recordings", err)
	}
	params := &twilioapi.ListRecordingParams{}
	params.SetCallSid(providerCallID)
	params.SetPageSize(1)
	params.SetLimit(1)

	recs, err := c.rest.Api.ListRecording(params)
	if err != nil {
		return "", false, mapTwilioError("list recordings", err)
	}
	if len(recs) == 0 || recs[0].Sid == nil || *recs[0].Sid == "" {
		return "", false, nil
	}
	return *recs[0].Sid, true, nil
}

// DownloadRecording fetches the MP3 rendition of a recording. Oversized
// recordings fail the stage rather than being cut short.
func (c *TwilioClient) DownloadRecording(ctx context.Context, recordingID string) (postcall.Audio, error) {
	endpoint := defaultTwilioAPIBase + "/" + twilioAPIVersion + "/Accounts/" + url.PathEscape(c.cfg.AccountSID) +
		"/Recordings/" + url.PathEscape(recordingID) + ".mp3"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return postcall.Audio{}, apperr.Internal("build recording request", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return postcall.Audio{}, apperr.TransientIO("download recording", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return postcall.Audio{}, apperr.Provider(fmt.Sprintf("download recording: status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRecording+1))
	if err != nil {
		return postcall.Audio{}, apperr.TransientIO("read recording", err)
	}
	if int64(len(data)) > c.maxRecording {
		return postcall.Audio{}, apperr.Provider(fmt.Sprintf("recording exceeds %d bytes", c.maxRecording), nil)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = "audio/mpeg"
	}
	return postcall.Audio{Data: data, MimeType: mime}, nil
}

// HealthCheck fetches the account resource.
func (c *TwilioClient) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.TransientIO("fetch account", err)
	}
	acct, err := c.rest.Api.FetchAccount(c.cfg.AccountSID)
	if err != nil {
		return mapTwilioError("fetch account", err)
	}
	if acct != nil && acct.Status != nil && *acct.Status != "active" {
		return apperr.Provider("twilio account status "+*acct.Status, nil)
	}
	return nil
}

// mapTwilioError: 4xx API errors are the provider refusing; 5xx, transport and
// undecodable responses are transient.
func mapTwilioError(op string, err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status >= 500 {
			return apperr.TransientIO(op, err)
		}
		return apperr.Provider(op, err)
	}
	return apperr.TransientIO(op, err)
}

// rebaseTransport sends requests for api.twilio.com to another base URL.
type rebaseTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (t rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	if !strings.HasSuffix(req.URL.Host, "twilio.com") {
		return next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	return next.RoundTrip(out)
}
