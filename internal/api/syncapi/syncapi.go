package syncapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/reconcile"
	"github.com/BearBump/ShipSync/internal/services/syncjob"
)

type Jobs interface {
	Start(ctx context.Context, supplierName string) (uuid.UUID, error)
	SyncPackage(ctx context.Context, packageID uint64) (reconcile.Result, error)
	SyncTracking(ctx context.Context, packageID uint64) error
}

type Sessions interface {
	Get(ctx context.Context, id uuid.UUID) (*models.SyncSession, error)
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

type Store interface {
	GetPackage(ctx context.Context, id uint64) (*models.Package, error)
	ListPackageEvents(ctx context.Context, packageID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	ListAuditByPackage(ctx context.Context, packageID uint64, limit int) ([]*models.SyncAuditEntry, error)
}

type API struct {
	jobs     Jobs
	sessions Sessions
	store    Store
}

func New(jobs Jobs, sessions Sessions, store Store) *API {
	return &API{jobs: jobs, sessions: sessions, store: store}
}

func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/suppliers/{supplier}/bulk", a.startBulk)
		r.Get("/sync/sessions/{sessionId}", a.getSession)
		r.Post("/sync/sessions/{sessionId}/cancel", a.cancelSession)
		r.Post("/sync/packages/{packageId}", a.syncPackage)
		r.Post("/sync/packages/{packageId}/tracking", a.syncTracking)
		r.Get("/packages/{packageId}", a.getPackage)
		r.Get("/packages/{packageId}/events", a.listEvents)
		r.Get("/packages/{packageId}/audit", a.listAudit)
	})
}

// POST /v1/sync/suppliers/{supplier}/bulk — fire-and-forget: 202 и id сессии.
func (a *API) startBulk(w http.ResponseWriter, r *http.Request) {
	supplierName := chi.URLParam(r, "supplier")

	id, err := a.jobs.Start(r.Context(), supplierName)
	if err != nil {
		switch {
		case errors.Is(err, syncjob.ErrUnknownSupplier):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, syncjob.ErrBusy):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id.String()})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	sess, err := a.sessions.Get(r.Context(), id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

func (a *API) cancelSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if err := a.sessions.RequestCancel(r.Context(), id); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelRequested": true})
}

// POST /v1/sync/packages/{packageId} — синхронная пересверка с поставщиком.
func (a *API) syncPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePackageID(w, r)
	if !ok {
		return
	}
	res, err := a.jobs.SyncPackage(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if errs.IsTransport(err) || errs.IsProtocolFault(err) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":   res.Outcome,
		"packageId": res.PackageID,
	})
}

// POST /v1/sync/packages/{packageId}/tracking — синхронный поход к перевозчику.
func (a *API) syncTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePackageID(w, r)
	if !ok {
		return
	}
	if err := a.jobs.SyncTracking(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errs.IsTransport(err) || errs.IsProtocolFault(err):
			writeError(w, http.StatusBadGateway, err)
		case errs.IsInconsistentState(err):
			// Оператору нужно видеть это отличимо от обычной 500.
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePackageID(w, r)
	if !ok {
		return
	}
	pkg, err := a.store.GetPackage(r.Context(), id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(pkg))
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePackageID(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)

	evs, err := a.store.ListPackageEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEventDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePackageID(w, r)
	if !ok {
		return
	}
	limit, _ := parsePage(r)

	entries, err := a.store.ListAuditByPackage(r.Context(), id, limit)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	out := make([]auditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// --- helpers ---

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid session id"))
		return uuid.Nil, false
	}
	return id, true
}

func parsePackageID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "packageId"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid package id"))
		return 0, false
	}
	return id, true
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- DTO ---

type sessionDTO struct {
	ID                 string     `json:"id"`
	SupplierName       string     `json:"supplierName"`
	Status             string     `json:"status"`
	TotalShipments     int32      `json:"totalShipments"`
	ProcessedShipments int32      `json:"processedShipments"`
	CreatedPackages    int32      `json:"createdPackages"`
	UpdatedPackages    int32      `json:"updatedPackages"`
	CreatedCustomers   int32      `json:"createdCustomers"`
	ErrorCount         int32      `json:"errorCount"`
	CancelRequested    bool       `json:"cancelRequested"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	FailureDetail      string     `json:"failureDetail,omitempty"`
}

func toSessionDTO(s *models.SyncSession) sessionDTO {
	return sessionDTO{
		ID:                 s.ID.String(),
		SupplierName:       s.SupplierName,
		Status:             s.Status,
		TotalShipments:     s.TotalShipments,
		ProcessedShipments: s.ProcessedShipments,
		CreatedPackages:    s.CreatedPackages,
		UpdatedPackages:    s.UpdatedPackages,
		CreatedCustomers:   s.CreatedCustomers,
		ErrorCount:         s.ErrorCount,
		CancelRequested:    s.CancelRequested,
		StartedAt:          s.StartedAt,
		CompletedAt:        s.CompletedAt,
		FailureDetail:      derefString(s.FailureDetail),
	}
}

type packageDTO struct {
	ID                      uint64     `json:"id"`
	TrackingNumber          string     `json:"trackingNumber"`
	ExternalTrackingNumber  string     `json:"externalTrackingNumber,omitempty"`
	CustomerID              uint64     `json:"customerId"`
	SupplierName            string     `json:"supplierName,omitempty"`
	CarrierCode             string     `json:"carrierCode,omitempty"`
	Description             string     `json:"description,omitempty"`
	WeightKg                float64    `json:"weightKg"`
	Dimensions              string     `json:"dimensions,omitempty"`
	DeclaredValue           float64    `json:"declaredValue"`
	ExternalShipmentID      string     `json:"externalShipmentId,omitempty"`
	ExternalReferenceNumber string     `json:"externalReferenceNumber,omitempty"`
	WarehouseLocation       string     `json:"warehouseLocation,omitempty"`
	ConsolidationStatus     string     `json:"consolidationStatus,omitempty"`
	CarrierStatus           string     `json:"carrierStatus"`
	CarrierStatusRaw        string     `json:"carrierStatusRaw,omitempty"`
	CarrierStatusAt         *time.Time `json:"carrierStatusAt,omitempty"`
	SyncStatus              string     `json:"syncStatus"`
	LastSyncAt              *time.Time `json:"lastSyncAt,omitempty"`
	NextCheckAt             time.Time  `json:"nextCheckAt"`
	CheckFailCount          int32      `json:"checkFailCount"`
	LastError               string     `json:"lastError,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

func toPackageDTO(p *models.Package) packageDTO {
	return packageDTO{
		ID:                      p.ID,
		TrackingNumber:          p.TrackingNumber,
		ExternalTrackingNumber:  derefString(p.ExternalTrackingNumber),
		CustomerID:              p.CustomerID,
		SupplierName:            p.SupplierName,
		CarrierCode:             p.CarrierCode,
		Description:             p.Description,
		WeightKg:                p.WeightKg,
		Dimensions:              p.Dimensions,
		DeclaredValue:           p.DeclaredValue,
		ExternalShipmentID:      derefString(p.ExternalShipmentID),
		ExternalReferenceNumber: p.ExternalReferenceNumber,
		WarehouseLocation:       p.WarehouseLocation,
		ConsolidationStatus:     p.ConsolidationStatus,
		CarrierStatus:           p.CarrierStatus,
		CarrierStatusRaw:        p.CarrierStatusRaw,
		CarrierStatusAt:         p.CarrierStatusAt,
		SyncStatus:              p.SyncStatus,
		LastSyncAt:              p.LastSyncAt,
		NextCheckAt:             p.NextCheckAt,
		CheckFailCount:          p.CheckFailCount,
		LastError:               derefString(p.LastError),
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
	}
}

type eventDTO struct {
	ID          uint64    `json:"id"`
	PackageID   uint64    `json:"packageId"`
	Carrier     string    `json:"carrier,omitempty"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	EventTime   time.Time `json:"eventTime"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toEventDTO(e *models.TrackingEvent) eventDTO {
	return eventDTO{
		ID:          e.ID,
		PackageID:   e.PackageID,
		Carrier:     e.Carrier,
		EventType:   e.EventType,
		Description: e.Description,
		Location:    derefString(e.Location),
		EventTime:   e.EventTime,
		CreatedAt:   e.CreatedAt,
	}
}

type auditDTO struct {
	ID               uint64    `json:"id"`
	PackageID        *uint64   `json:"packageId,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	SyncType         string    `json:"syncType"`
	Outcome          string    `json:"outcome"`
	ResponseSnapshot string    `json:"responseSnapshot,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toAuditDTO(e *models.SyncAuditEntry) auditDTO {
	d := auditDTO{
		ID:               e.ID,
		PackageID:        e.PackageID,
		SyncType:         e.SyncType,
		Outcome:          e.Outcome,
		ResponseSnapshot: derefString(e.ResponseSnapshot),
		ErrorMessage:     derefString(e.ErrorMessage),
		Detail:           derefString(e.Detail),
		CreatedAt:        e.CreatedAt,
	}
	if e.SessionID != nil {
		d.SessionID = e.SessionID.String()
	}
	return d
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
