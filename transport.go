package flagcore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default API origins.
const (
	DefaultAPI = "https://statsigapi.net/v1"
	CDNOrigin  = "https://api.statsigcdn.com/v1"
)

const (
	maxSendEventsRetries = 5
	initialBackoff       = time.Second
	backoffMultiplier    = 10
)

// transport is the network client: it attaches auth/SDK
// metadata headers, picks GET-vs-CDN or POST-vs-API for download_config_specs,
// and never mutates shared state.
type transport struct {
	secret              string
	logEventBase        string
	downloadSpecsBase   string
	usesCDNForDownload  bool
	metadata            sdkMetadata
	client              *http.Client
	options             *Options
	outputLogger        *OutputLogger
}

func newTransport(secret string, options *Options, logger *OutputLogger) *transport {
	downloadBase := defaultString(options.APIForDownloadConfigSpecs, defaultString(options.API, CDNOrigin))
	usesCDN := strings.TrimSuffix(downloadBase, "/") == strings.TrimSuffix(CDNOrigin, "/")
	return &transport{
		secret:             secret,
		downloadSpecsBase:  strings.TrimSuffix(downloadBase, "/"),
		logEventBase:       strings.TrimSuffix(defaultString(options.API, DefaultAPI), "/"),
		usesCDNForDownload: usesCDN,
		metadata:           getSDKMetadata(),
		client:             &http.Client{Timeout: 10 * time.Second},
		options:            options,
		outputLogger:       logger,
	}
}

// downloadResult is the either(WithUpdates, NoUpdates, error) outcome of
// fetching the latest rule set snapshot.
type downloadResult struct {
	HasUpdates bool
	Specs      downloadConfigSpecResponse
}

func (t *transport) downloadConfigSpecs(sinceTimeMs int64) (*downloadResult, error) {
	if t.options.LocalMode {
		return nil, nil
	}

	var (
		req *http.Request
		err error
	)
	if t.usesCDNForDownload {
		url := fmt.Sprintf("%s/download_config_specs/%s.json?sinceTime=%d", t.downloadSpecsBase, t.secret, sinceTimeMs)
		req, err = http.NewRequest(http.MethodGet, url, nil)
	} else {
		body, marshalErr := json.Marshal(map[string]interface{}{
			"sinceTime":       sinceTimeMs,
			"statsigMetadata": t.metadata,
		})
		if marshalErr != nil {
			return nil, marshalErr
		}
		url := t.downloadSpecsBase + "/download_config_specs"
		req, err = http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	}
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	t.addCommonHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode > 299 {
		return nil, &TransportError{
			RequestMetadata: &RequestMetadata{StatusCode: resp.StatusCode, Endpoint: "download_config_specs"},
			Err:             fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var specs downloadConfigSpecResponse
	if err := json.NewDecoder(resp.Body).Decode(&specs); err != nil {
		return nil, &TransportError{Err: err}
	}
	return &downloadResult{HasUpdates: specs.HasUpdates, Specs: specs}, nil
}

// sendEvents POSTs a batch of exposure/custom events to /log_event,
// gzip-compressed, with a small bounded retry for transient failures.
func (t *transport) sendEvents(events []interface{}) error {
	if t.options.LocalMode {
		return nil
	}
	input := logEventInput{Events: events, StatsigMetadata: t.metadata}
	body, err := json.Marshal(input)
	if err != nil {
		return &TransportError{Err: err}
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(body); err != nil {
		return &TransportError{Err: err}
	}
	if err := gz.Close(); err != nil {
		return &TransportError{Err: err}
	}

	url := t.logEventBase + "/log_event"
	backoff := initialBackoff
	attempts := 0
	var lastErr error
	for {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(compressed.Bytes()))
		if err != nil {
			return &TransportError{Err: err}
		}
		t.addCommonHeaders(req)
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set("statsig-event-count", strconv.Itoa(len(events)))

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			status := resp.StatusCode
			drainAndClose(resp.Body)
			if status >= 200 && status < 300 {
				return nil
			}
			lastErr = fmt.Errorf("status %d", status)
			if !retryableStatusCode(status) {
				return &TransportError{
					RequestMetadata: &RequestMetadata{StatusCode: status, Endpoint: "log_event", Retries: attempts},
					Err:             lastErr,
				}
			}
		}

		if attempts >= maxSendEventsRetries {
			break
		}
		attempts++
		time.Sleep(backoff)
		backoff *= backoffMultiplier
	}
	return &TransportError{
		RequestMetadata: &RequestMetadata{Endpoint: "log_event", Retries: attempts},
		Err:             lastErr,
	}
}

func (t *transport) addCommonHeaders(req *http.Request) {
	req.Header.Set("STATSIG-API-KEY", t.secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("STATSIG-CLIENT-TIME", strconv.FormatInt(nowUnixMilli(), 10))
	req.Header.Set("STATSIG-SERVER-SESSION-ID", t.metadata.SessionID)
	req.Header.Set("STATSIG-SDK-TYPE", t.metadata.SDKType)
	req.Header.Set("STATSIG-SDK-VERSION", t.metadata.SDKVersion)
	req.Header.Set("STATSIG-SDK-LANGUAGE-VERSION", t.metadata.LanguageVersion)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

func retryableStatusCode(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 522, 524, 599:
		return true
	default:
		return false
	}
}
