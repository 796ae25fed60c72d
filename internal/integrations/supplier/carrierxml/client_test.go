package carrierxml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/models"
)

func TestGetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/track.xml", r.URL.Path)
		// Запрос уезжает как XML в query-параметре.
		require.Contains(t, r.URL.Query().Get("xml"), "<TrackingNumber>1Z999</TrackingNumber>")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<TrackResponse>
 <Status>Package delivered to recipient</Status>
 <Events>
  <Event>
   <Type>PICKUP</Type>
   <Description>Picked up</Description>
   <Location>Miami FL</Location>
   <Timestamp>2024-07-01 09:00:00</Timestamp>
  </Event>
  <Event>
   <Type>DELIVERY</Type>
   <Description>Delivered</Description>
   <Location>Kingston</Location>
   <Timestamp>2024-07-02 19:16:00</Timestamp>
  </Event>
 </Events>
</TrackResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.GetTracking(context.Background(), "UPS", "1Z999")
	require.NoError(t, err)
	require.Equal(t, models.CarrierStatusDelivered, res.Status)
	require.Equal(t, "Package delivered to recipient", res.StatusRaw)
	require.Len(t, res.Events, 2)
	require.Equal(t, "PICKUP", res.Events[0].EventType)
	require.Equal(t, "UPS", res.Events[0].Carrier)
	require.NotNil(t, res.Events[1].Location)
	require.Equal(t, "Kingston", *res.Events[1].Location)
	require.Equal(t, time.Date(2024, 7, 2, 19, 16, 0, 0, time.UTC), res.Events[1].EventTime)
}

func TestGetTracking_ErrorNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<TrackResponse><Error><Code>404</Code><Message>unknown tracking number</Message></Error></TrackResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.GetTracking(context.Background(), "UPS", "nope")
	require.Error(t, err)
	require.True(t, errs.IsProtocolFault(err))
}

func TestGetTracking_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.GetTracking(context.Background(), "UPS", "1Z999")
	require.Error(t, err)
	require.True(t, errs.IsTransport(err))
}

func TestGetTracking_BadXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not xml at all`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.GetTracking(context.Background(), "UPS", "1Z999")
	require.Error(t, err)
	require.True(t, errs.IsParse(err))
}

func TestGetTracking_InTransitAndUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<TrackResponse><Status>Arrived at sort facility</Status></TrackResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.GetTracking(context.Background(), "UPS", "1Z999")
	require.NoError(t, err)
	require.Equal(t, models.CarrierStatusInTransit, res.Status)
	require.Empty(t, res.Events)
}
