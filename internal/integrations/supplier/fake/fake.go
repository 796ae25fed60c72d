package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/models"
)

// FakeSupplier — детерминированная заглушка шлюза поставщика для dev-контура
// и тестов. Генерирует небольшой стабильный набор отгрузок.
type FakeSupplier struct {
	name string
}

func NewSupplier(name string) *FakeSupplier { return &FakeSupplier{name: name} }

func (f *FakeSupplier) FetchShipments(ctx context.Context) ([]models.ShipmentRecord, error) {
	out := make([]models.ShipmentRecord, 0, 3)
	for i := 1; i <= 3; i++ {
		out = append(out, f.shipment(i))
	}
	return out, nil
}

func (f *FakeSupplier) FetchShipment(ctx context.Context, shipmentID string) (models.ShipmentRecord, error) {
	for i := 1; i <= 3; i++ {
		rec := f.shipment(i)
		if rec.ShipmentID == shipmentID {
			return rec, nil
		}
	}
	return models.ShipmentRecord{}, fmt.Errorf("fake supplier: unknown shipment %q", shipmentID)
}

func (f *FakeSupplier) shipment(i int) models.ShipmentRecord {
	id := fmt.Sprintf("%s-%03d", f.name, i)
	return models.ShipmentRecord{
		ShipmentID:        id,
		ReferenceNumber:   fmt.Sprintf("REF-%03d", i),
		TrackingNumber:    fmt.Sprintf("TRK-%03d", i),
		Description:       "fake shipment",
		WeightKg:          float64(i),
		Dimensions:        "30x20x10",
		DeclaredValue:     float64(i) * 10,
		Status:            "In Warehouse",
		WarehouseLocation: fmt.Sprintf("WH-%d", i),
		Sender:            models.Party{Name: "Fake Shop", Address: "1 Fake Way"},
		Consignee: models.Consignee{
			Name:    fmt.Sprintf("Consignee %03d", i),
			Address: fmt.Sprintf("%d Example St", i),
			Email:   fmt.Sprintf("c%03d@example.com", i),
		},
	}
}

// FakeCarrier — заглушка трекинга: детерминированный статус по
// (carrier, trackingNumber), часть треков считается доставленной.
type FakeCarrier struct{}

func NewCarrier() *FakeCarrier { return &FakeCarrier{} }

func (f *FakeCarrier) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (supplier.TrackingResult, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierCode))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	// 20% треков считаем доставленными
	status := models.CarrierStatusInTransit
	if v%5 == 0 {
		status = models.CarrierStatusDelivered
	}

	ev := &models.TrackingEvent{
		Carrier:     carrierCode,
		EventType:   status,
		Description: "fake carrier update",
		EventTime:   now,
	}

	return supplier.TrackingResult{
		Status:    status,
		StatusRaw: status,
		StatusAt:  &now,
		Events:    []*models.TrackingEvent{ev},
	}, nil
}
