// Package directory talks to the Device Directory, the HTTP service that
// lists the devices attached to a gateway and serves live sensor readings.
// It also contains a small in-memory implementation of that service.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/healthrank/internal/models"
)

// Client implements score.Directory over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchConnectedDevices returns the devices currently attached to the gateway.
func (c *Client) FetchConnectedDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.get(ctx, "/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// SensorValue reads the current value of one sensor.
func (c *Client) SensorValue(ctx context.Context, deviceID, sensorID string) (int, error) {
	var reading struct {
		Value int `json:"value"`
	}
	path := fmt.Sprintf("/devices/%s/sensors/%s", url.PathEscape(deviceID), url.PathEscape(sensorID))
	if err := c.get(ctx, path, &reading); err != nil {
		return 0, err
	}
	return reading.Value, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
