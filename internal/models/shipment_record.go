package models

// Party — отправитель во внешней записи отгрузки.
type Party struct {
	Name    string
	Address string
}

type Consignee struct {
	Name    string
	Address string
	Email   string
	Phone   string
}

// ShipmentRecord — сырые данные отгрузки из внешней системы поставщика.
// Не сохраняется как есть: сразу скармливается движку сверки.
type ShipmentRecord struct {
	ShipmentID      string
	ReferenceNumber string
	TrackingNumber  string
	Description     string
	WeightKg        float64
	Dimensions      string
	DeclaredValue   float64
	Status          string
	WarehouseLocation string
	Sender          Party
	Consignee       Consignee
}
