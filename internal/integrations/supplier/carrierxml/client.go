package carrierxml

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/models"
)

// Client — REST+XML трекинг перевозчика (протокол B): GET с XML-запросом
// в query-параметре, ответ — XML со статусом и списком событий.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type trackRequest struct {
	XMLName        xml.Name `xml:"TrackRequest"`
	APIKey         string   `xml:"ApiKey"`
	TrackingNumber string   `xml:"TrackingNumber"`
}

type trackResponse struct {
	XMLName xml.Name    `xml:"TrackResponse"`
	Error   *trackError `xml:"Error"`
	Status  string      `xml:"Status"`
	Events  []struct {
		Type        string `xml:"Type"`
		Description string `xml:"Description"`
		Location    string `xml:"Location"`
		Timestamp   string `xml:"Timestamp"`
	} `xml:"Events>Event"`
}

type trackError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (supplier.TrackingResult, error) {
	const op = "carrier: get tracking"

	payload, err := xml.Marshal(trackRequest{
		APIKey:         c.apiKey,
		TrackingNumber: trackingNumber,
	})
	if err != nil {
		return supplier.TrackingResult{}, errors.Wrap(err, "marshal track request")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return supplier.TrackingResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/track.xml"
	q := u.Query()
	q.Set("xml", string(payload))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return supplier.TrackingResult{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return supplier.TrackingResult{}, &errs.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return supplier.TrackingResult{}, &errs.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return supplier.TrackingResult{}, &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tr trackResponse
	if err := xml.Unmarshal(raw, &tr); err != nil {
		return supplier.TrackingResult{}, &errs.ParseError{Op: op, Reason: "decode track response", Err: err}
	}
	if tr.Error != nil {
		return supplier.TrackingResult{}, &errs.ProtocolFault{Op: op, Code: tr.Error.Code, Message: tr.Error.Message}
	}

	now := time.Now().UTC()
	events := make([]*models.TrackingEvent, 0, len(tr.Events))
	for _, e := range tr.Events {
		evTime := now
		// Пример формата перевозчика: "2024-07-02 19:16:00".
		if e.Timestamp != "" {
			if t, err := time.ParseInLocation("2006-01-02 15:04:05", e.Timestamp, time.UTC); err == nil {
				evTime = t.UTC()
			}
		}

		events = append(events, &models.TrackingEvent{
			Carrier:     carrierCode,
			EventType:   e.Type,
			Description: e.Description,
			Location:    strPtr(e.Location),
			EventTime:   evTime,
		})
	}

	status := normalizeStatus(tr.Status)
	return supplier.TrackingResult{
		Status:    status,
		StatusRaw: tr.Status,
		StatusAt:  &now,
		Events:    events,
	}, nil
}

func normalizeStatus(raw string) string {
	low := strings.ToLower(raw)
	switch {
	case strings.Contains(low, "delivered"):
		return models.CarrierStatusDelivered
	case low == "":
		return models.CarrierStatusUnknown
	default:
		return models.CarrierStatusInTransit
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
