// Package nightscout provides a client for interacting with the Nightscout API
package nightscout

import (
	"context"
	"crypto/sha1" //nolint:gosec // Required for Nightscout API secret hashing (legacy API requirement)
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// Fetch page sizes. 90 days of 5-minute CGM readings is ~26k documents, so
// the entries cap leaves headroom for 1-minute sensors.
const (
	maxEntries      = 150000
	maxTreatments   = 20000
	maxDeviceStatus = 50000
)

// Client handles communication with the Nightscout API
type Client struct {
	baseURL    string
	apiSecret  string
	apiToken   string
	useToken   bool
	httpClient *http.Client
}

// NewClient creates a new Nightscout client
func NewClient(baseURL, apiSecret, apiToken string, useToken bool) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiSecret: apiSecret,
		apiToken:  apiToken,
		useToken:  useToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// hashSecret generates SHA1 hash of the API secret
// Note: SHA1 is required for Nightscout API compatibility
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// buildRequest creates an HTTP request with proper authentication
func (c *Client) buildRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	fullURL := c.baseURL + endpoint
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	// Add authentication
	if c.useToken && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else if c.apiSecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.apiSecret))
	}

	return req, nil
}

// doRequest executes an HTTP request and returns the response body
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status     string `json:"status"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	ServerTime string `json:"serverTime"`
	APIEnabled bool   `json:"apiEnabled"`
}

// Status retrieves the Nightscout server status
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	req, err := c.buildRequest(ctx, "GET", "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var status ServerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}

	return &status, nil
}

// TestConnection tests if the connection to Nightscout works
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}

// nsEntry is the Nightscout entries document shape.
type nsEntry struct {
	SGV   float64 `json:"sgv"`
	Date  int64   `json:"date"`
	Mills int64   `json:"mills"`
}

func (e nsEntry) mills() int64 {
	if e.Date > 0 {
		return e.Date
	}
	return e.Mills
}

// FetchEntries retrieves glucose entries within [start, end]. Nightscout
// returns documents newest first; callers are expected to sort.
func (c *Client) FetchEntries(ctx context.Context, start, end time.Time) ([]models.BgEntry, error) {
	params := url.Values{}
	params.Set("find[date][$gte]", fmt.Sprintf("%d", start.UnixMilli()))
	params.Set("find[date][$lte]", fmt.Sprintf("%d", end.UnixMilli()))
	params.Set("count", fmt.Sprintf("%d", maxEntries))

	req, err := c.buildRequest(ctx, "GET", "/api/v1/entries/sgv", params)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var raw []nsEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing entries: %w", err)
	}

	entries := make([]models.BgEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, models.BgEntry{Mills: e.mills(), SGV: e.SGV})
	}
	return entries, nil
}

// nsTreatment is the Nightscout treatments document shape.
type nsTreatment struct {
	Date      int64    `json:"date"`
	Mills     int64    `json:"mills"`
	CreatedAt string   `json:"created_at"`
	Insulin   *float64 `json:"insulin"`
	Carbs     *float64 `json:"carbs"`
	EventType string   `json:"eventType"`
}

func (t nsTreatment) mills() int64 {
	if t.Date > 0 {
		return t.Date
	}
	if t.Mills > 0 {
		return t.Mills
	}
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}

// FetchTreatments retrieves insulin/carb treatments within [start, end].
// Treatments are filtered by created_at because older uploaders omit the
// millisecond date field.
func (c *Client) FetchTreatments(ctx context.Context, start, end time.Time) ([]models.Treatment, error) {
	params := url.Values{}
	params.Set("find[created_at][$gte]", start.UTC().Format(time.RFC3339))
	params.Set("find[created_at][$lte]", end.UTC().Format(time.RFC3339))
	params.Set("count", fmt.Sprintf("%d", maxTreatments))

	req, err := c.buildRequest(ctx, "GET", "/api/v1/treatments", params)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var raw []nsTreatment
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing treatments: %w", err)
	}

	treatments := make([]models.Treatment, 0, len(raw))
	for _, t := range raw {
		mills := t.mills()
		if mills == 0 {
			continue
		}
		treatments = append(treatments, models.Treatment{
			Mills:     mills,
			Insulin:   t.Insulin,
			Carbs:     t.Carbs,
			EventType: t.EventType,
		})
	}
	return treatments, nil
}

// nsDeviceStatus is the Nightscout devicestatus document shape. Both the
// openaps and loop uploaders are handled; openaps wins when both exist.
type nsDeviceStatus struct {
	Mills     int64  `json:"mills"`
	CreatedAt string `json:"created_at"`
	OpenAPS   *struct {
		IOB *struct {
			IOB      *float64 `json:"iob"`
			BolusIOB *float64 `json:"bolusiob"`
			BasalIOB *float64 `json:"basaliob"`
		} `json:"iob"`
		Suggested *struct {
			COB *float64 `json:"COB"`
		} `json:"suggested"`
	} `json:"openaps"`
	Loop *struct {
		IOB *struct {
			IOB *float64 `json:"iob"`
		} `json:"iob"`
		COB *struct {
			COB *float64 `json:"cob"`
		} `json:"cob"`
	} `json:"loop"`
}

func (d nsDeviceStatus) mills() int64 {
	if d.Mills > 0 {
		return d.Mills
	}
	parsed, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}

func (d nsDeviceStatus) toSnapshot() (models.DeviceStatusSnapshot, bool) {
	mills := d.mills()
	if mills == 0 {
		return models.DeviceStatusSnapshot{}, false
	}

	snap := models.DeviceStatusSnapshot{Mills: mills}
	if d.OpenAPS != nil {
		if d.OpenAPS.IOB != nil {
			snap.IOB = d.OpenAPS.IOB.IOB
			snap.BolusIOB = d.OpenAPS.IOB.BolusIOB
			snap.BasalIOB = d.OpenAPS.IOB.BasalIOB
		}
		if d.OpenAPS.Suggested != nil {
			snap.COB = d.OpenAPS.Suggested.COB
		}
	}
	if d.Loop != nil {
		if snap.IOB == nil && d.Loop.IOB != nil {
			snap.IOB = d.Loop.IOB.IOB
		}
		if snap.COB == nil && d.Loop.COB != nil {
			snap.COB = d.Loop.COB.COB
		}
	}
	return snap, true
}

// FetchDeviceStatus retrieves pump/loop status snapshots within [start, end].
func (c *Client) FetchDeviceStatus(ctx context.Context, start, end time.Time) ([]models.DeviceStatusSnapshot, error) {
	params := url.Values{}
	params.Set("find[created_at][$gte]", start.UTC().Format(time.RFC3339))
	params.Set("find[created_at][$lte]", end.UTC().Format(time.RFC3339))
	params.Set("count", fmt.Sprintf("%d", maxDeviceStatus))

	req, err := c.buildRequest(ctx, "GET", "/api/v1/devicestatus", params)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var raw []nsDeviceStatus
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing devicestatus: %w", err)
	}

	statuses := make([]models.DeviceStatusSnapshot, 0, len(raw))
	for _, d := range raw {
		if snap, ok := d.toSnapshot(); ok {
			statuses = append(statuses, snap)
		}
	}
	return statuses, nil
}
