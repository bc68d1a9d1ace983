package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client is the capability consumed from the SDN controller. Only these five
// operations are needed; everything behind them (discovery, OpenFlow wire
// handling) is the controller's business.
type Client interface {
	ListDevices(ctx context.Context) ([]DeviceFact, error)
	ListHosts(ctx context.Context) ([]HostFact, error)
	ListLinks(ctx context.Context) ([]LinkFact, error)
	InstallRule(ctx context.Context, deviceID string, rule RuleSpec) error
	DeleteRule(ctx context.Context, deviceID, flowID string) error
	ListInstalledRules(ctx context.Context, deviceID string) ([]RuleSpec, error)
}

// RESTClient talks to an ONOS-style v1 REST API with basic auth. Every
// request carries a bounded timeout; a timed-out call is a transient failure.
type RESTClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func NewRESTClient(baseURL, username, password string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *RESTClient) ListDevices(ctx context.Context) ([]DeviceFact, error) {
	var payload struct {
		Devices []DeviceFact `json:"devices"`
	}
	if err := c.get(ctx, "/onos/v1/devices", &payload); err != nil {
		return nil, err
	}
	log.Debugf("controller returned %d devices", len(payload.Devices))
	return payload.Devices, nil
}

func (c *RESTClient) ListHosts(ctx context.Context) ([]HostFact, error) {
	var payload struct {
		Hosts []HostFact `json:"hosts"`
	}
	if err := c.get(ctx, "/onos/v1/hosts", &payload); err != nil {
		return nil, err
	}
	log.Debugf("controller returned %d hosts", len(payload.Hosts))
	return payload.Hosts, nil
}

func (c *RESTClient) ListLinks(ctx context.Context) ([]LinkFact, error) {
	var payload struct {
		Links []LinkFact `json:"links"`
	}
	if err := c.get(ctx, "/onos/v1/links", &payload); err != nil {
		return nil, err
	}
	log.Debugf("controller returned %d links", len(payload.Links))
	return payload.Links, nil
}

func (c *RESTClient) InstallRule(ctx context.Context, deviceID string, rule RuleSpec) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return &InstallError{DeviceID: deviceID, Transient: false, Err: err}
	}

	url := fmt.Sprintf("%s/onos/v1/flows/%s", c.baseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &InstallError{DeviceID: deviceID, Transient: false, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all worth retrying.
		return &InstallError{DeviceID: deviceID, Transient: isTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Debugf("installed rule on %s (priority %d)", deviceID, rule.Priority)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &InstallError{
		DeviceID:  deviceID,
		Status:    resp.StatusCode,
		Transient: resp.StatusCode >= 500,
		Err:       fmt.Errorf("controller rejected rule: %s", string(respBody)),
	}
}

// DeleteRule removes one installed rule. A rule that is already gone counts
// as removed.
func (c *RESTClient) DeleteRule(ctx context.Context, deviceID, flowID string) error {
	url := fmt.Sprintf("%s/onos/v1/flows/%s/%s", c.baseURL, deviceID, flowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("building delete for flow %s on %s: %w", flowID, deviceID, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE flow %s on %s: %w", flowID, deviceID, err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusNotFound {
		log.Debugf("removed rule %s from %s", flowID, deviceID)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("DELETE flow %s on %s: unexpected status %d: %s", flowID, deviceID, resp.StatusCode, string(body))
}

func (c *RESTClient) ListInstalledRules(ctx context.Context, deviceID string) ([]RuleSpec, error) {
	var payload struct {
		Flows []RuleSpec `json:"flows"`
	}
	if err := c.get(ctx, "/onos/v1/flows/"+deviceID, &payload); err != nil {
		return nil, err
	}
	return payload.Flows, nil
}

// isTransportError treats anything that never produced an HTTP response as
// retryable: connection errors and timeouts are transient, an explicit
// cancellation is not.
func isTransportError(err error) bool {
	return !errors.Is(err, context.Canceled)
}
