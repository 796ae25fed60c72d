package magayasoap

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/models"
)

// Client — SOAP/XML шлюз логистической системы (протокол A). Креды
// вкладываются в тело запроса, как того требует шлюз.
type Client struct {
	endpoint string
	creds    supplier.Credentials
	httpc    *http.Client
}

func New(endpoint string, creds supplier.Credentials) *Client {
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	NS      string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	GetShipments *getShipmentsReq `xml:"GetShipments,omitempty"`
	GetShipment  *getShipmentReq  `xml:"GetShipment,omitempty"`
}

type getShipmentsReq struct {
	NetworkID string `xml:"NetworkID"`
	User      string `xml:"User"`
	Password  string `xml:"Password"`
}

type getShipmentReq struct {
	NetworkID  string `xml:"NetworkID"`
	User       string `xml:"User"`
	Password   string `xml:"Password"`
	ShipmentID string `xml:"ShipmentID"`
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault    *soapFault     `xml:"Fault"`
		List     *shipmentsResp `xml:"GetShipmentsResponse"`
		Single   *shipmentResp  `xml:"GetShipmentResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
}

type shipmentsResp struct {
	Shipments []xmlShipment `xml:"Shipments>Shipment"`
}

type shipmentResp struct {
	Shipment *xmlShipment `xml:"Shipment"`
}

type xmlShipment struct {
	ShipmentID        string `xml:"ShipmentID"`
	ReferenceNumber   string `xml:"ReferenceNumber"`
	TrackingNumber    string `xml:"TrackingNumber"`
	Description       string `xml:"Description"`
	Weight            string `xml:"Weight"`
	Dimensions        string `xml:"Dimensions"`
	DeclaredValue     string `xml:"DeclaredValue"`
	Status            string `xml:"Status"`
	WarehouseLocation string `xml:"WarehouseLocation"`
	SenderName        string `xml:"SenderName"`
	SenderAddress     string `xml:"SenderAddress"`
	ConsigneeName     string `xml:"ConsigneeName"`
	ConsigneeAddress  string `xml:"ConsigneeAddress"`
	ConsigneeEmail    string `xml:"ConsigneeEmail"`
	ConsigneePhone    string `xml:"ConsigneePhone"`
}

func (c *Client) FetchShipments(ctx context.Context) ([]models.ShipmentRecord, error) {
	const op = "magaya: fetch shipments"

	env := requestEnvelope{
		NS: "http://schemas.xmlsoap.org/soap/envelope/",
		Body: requestBody{
			GetShipments: &getShipmentsReq{
				NetworkID: c.creds.NetworkID,
				User:      c.creds.Username,
				Password:  c.creds.Password,
			},
		},
	}

	resp, err := c.call(ctx, op, env)
	if err != nil {
		return nil, err
	}
	if resp.Body.List == nil {
		return nil, &errs.ParseError{Op: op, Reason: "response has no GetShipmentsResponse node"}
	}

	out := make([]models.ShipmentRecord, 0, len(resp.Body.List.Shipments))
	for i, xs := range resp.Body.List.Shipments {
		rec, err := toRecord(op, i, xs)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) FetchShipment(ctx context.Context, shipmentID string) (models.ShipmentRecord, error) {
	const op = "magaya: fetch shipment"

	if shipmentID == "" {
		return models.ShipmentRecord{}, errors.New("shipmentID is required")
	}

	env := requestEnvelope{
		NS: "http://schemas.xmlsoap.org/soap/envelope/",
		Body: requestBody{
			GetShipment: &getShipmentReq{
				NetworkID:  c.creds.NetworkID,
				User:       c.creds.Username,
				Password:   c.creds.Password,
				ShipmentID: shipmentID,
			},
		},
	}

	resp, err := c.call(ctx, op, env)
	if err != nil {
		return models.ShipmentRecord{}, err
	}
	if resp.Body.Single == nil || resp.Body.Single.Shipment == nil {
		return models.ShipmentRecord{}, &errs.ParseError{Op: op, Reason: "response has no Shipment node"}
	}
	return toRecord(op, 0, *resp.Body.Single.Shipment)
}

func (c *Client) call(ctx context.Context, op string, env requestEnvelope) (*responseEnvelope, error) {
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	body := append([]byte(xml.Header), payload...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &errs.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &errs.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode/100 != 2 {
		// Тело оставляем в ошибке для диагностики.
		return nil, &errs.TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out responseEnvelope
	if err := xml.Unmarshal(raw, &out); err != nil {
		return nil, &errs.ParseError{Op: op, Reason: "decode soap envelope", Err: err}
	}
	if f := out.Body.Fault; f != nil {
		return nil, &errs.ProtocolFault{Op: op, Code: f.Code, Message: f.Message}
	}
	return &out, nil
}

func toRecord(op string, idx int, xs xmlShipment) (models.ShipmentRecord, error) {
	if xs.ShipmentID == "" && xs.ReferenceNumber == "" {
		return models.ShipmentRecord{}, &errs.ParseError{
			Op:     op,
			Reason: "shipment #" + strconv.Itoa(idx) + " has neither ShipmentID nor ReferenceNumber",
		}
	}
	if xs.ConsigneeName == "" {
		return models.ShipmentRecord{}, &errs.ParseError{
			Op:     op,
			Reason: "shipment " + firstNonEmpty(xs.ShipmentID, xs.ReferenceNumber) + " has no ConsigneeName",
		}
	}

	weight, err := parseFloat(xs.Weight)
	if err != nil {
		return models.ShipmentRecord{}, &errs.ParseError{Op: op, Reason: "bad Weight", Err: err}
	}
	declared, err := parseFloat(xs.DeclaredValue)
	if err != nil {
		return models.ShipmentRecord{}, &errs.ParseError{Op: op, Reason: "bad DeclaredValue", Err: err}
	}

	return models.ShipmentRecord{
		ShipmentID:        xs.ShipmentID,
		ReferenceNumber:   xs.ReferenceNumber,
		TrackingNumber:    xs.TrackingNumber,
		Description:       xs.Description,
		WeightKg:          weight,
		Dimensions:        xs.Dimensions,
		DeclaredValue:     declared,
		Status:            xs.Status,
		WarehouseLocation: xs.WarehouseLocation,
		Sender: models.Party{
			Name:    xs.SenderName,
			Address: xs.SenderAddress,
		},
		Consignee: models.Consignee{
			Name:    xs.ConsigneeName,
			Address: xs.ConsigneeAddress,
			Email:   xs.ConsigneeEmail,
			Phone:   xs.ConsigneePhone,
		},
	}, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
