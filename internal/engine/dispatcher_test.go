package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/istefan/ahoi-api/internal/metadata"
)

type receivedDelivery struct {
	payload EventPayload
	event   string
	key     string
}

// captureServer records webhook deliveries and signals each one on a channel.
func captureServer(t *testing.T) (*httptest.Server, chan receivedDelivery) {
	t.Helper()
	ch := make(chan receivedDelivery, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload EventPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		ch <- receivedDelivery{
			payload: payload,
			event:   r.Header.Get("X-Ahoi-Event"),
			key:     r.Header.Get("X-Ahoi-Delivery"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func waitForDelivery(t *testing.T, ch chan receivedDelivery) receivedDelivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return receivedDelivery{}
	}
}

func newDispatcherWithSubs(subs ...*metadata.Subscription) *Dispatcher {
	reg := metadata.NewRegistry()
	reg.Load(nil, subs)
	d := NewDispatcher(reg, DispatcherConfig{Workers: 1, QueueSize: 8, Timeout: 2 * time.Second})
	d.Start()
	return d
}

func TestDispatcherDeliversMatchingEvent(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(&metadata.Subscription{
		ID:            1,
		TargetURL:     srv.URL,
		EventName:     metadata.EventItemCreated,
		StructureSlug: "books",
		Status:        "active",
	})
	defer d.Stop()

	d.Trigger(metadata.EventItemCreated, "books", map[string]any{"id": int64(1), "title": "Dune"})

	got := waitForDelivery(t, ch)
	if got.payload.Event != metadata.EventItemCreated || got.payload.Structure != "books" {
		t.Fatalf("unexpected payload: %+v", got.payload)
	}
	if got.payload.Data["title"] != "Dune" {
		t.Fatalf("unexpected data: %v", got.payload.Data)
	}
	if got.event != metadata.EventItemCreated {
		t.Fatalf("unexpected event header: %s", got.event)
	}
	if !strings.HasPrefix(got.key, "wh_") {
		t.Fatalf("unexpected delivery key: %s", got.key)
	}
	if got.payload.Timestamp == "" {
		t.Fatal("missing timestamp")
	}
}

func TestDispatcherSkipsNonMatchingSubscriptions(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(
		&metadata.Subscription{ID: 1, TargetURL: srv.URL, EventName: metadata.EventItemDeleted, Status: "active"},
		&metadata.Subscription{ID: 2, TargetURL: srv.URL, EventName: metadata.EventItemCreated, StructureSlug: "authors", Status: "active"},
		&metadata.Subscription{ID: 3, TargetURL: srv.URL, EventName: metadata.EventItemCreated, StructureSlug: "books", Status: "paused"},
	)

	d.Trigger(metadata.EventItemCreated, "books", map[string]any{"id": int64(1)})
	d.Stop()

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %+v", got)
	default:
	}
}

func TestDispatcherCombinedEventForm(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(&metadata.Subscription{
		ID:        1,
		TargetURL: srv.URL,
		EventName: "item.updated:books",
		Status:    "active",
	})
	defer d.Stop()

	d.Trigger(metadata.EventItemUpdated, "authors", map[string]any{"id": int64(1)})
	d.Trigger(metadata.EventItemUpdated, "books", map[string]any{"id": int64(2)})

	got := waitForDelivery(t, ch)
	if got.payload.Structure != "books" {
		t.Fatalf("expected delivery for books only, got %+v", got.payload)
	}
}

func TestDispatcherConditionFiltersDeliveries(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(&metadata.Subscription{
		ID:        1,
		TargetURL: srv.URL,
		EventName: metadata.EventItemCreated,
		Condition: `data.total > 100`,
		Status:    "active",
	})
	defer d.Stop()

	d.Trigger(metadata.EventItemCreated, "orders", map[string]any{"id": int64(1), "total": int64(50)})
	d.Trigger(metadata.EventItemCreated, "orders", map[string]any{"id": int64(2), "total": int64(250)})

	got := waitForDelivery(t, ch)
	if got.payload.Data["id"] != float64(2) {
		t.Fatalf("expected only the matching record, got %v", got.payload.Data)
	}
}

func TestDispatcherBadConditionDoesNotDeliver(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(&metadata.Subscription{
		ID:        1,
		TargetURL: srv.URL,
		EventName: metadata.EventItemCreated,
		Condition: `data.total >`,
		Status:    "active",
	})

	d.Trigger(metadata.EventItemCreated, "orders", map[string]any{"id": int64(1)})
	d.Stop()

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %+v", got)
	default:
	}
}

func TestDispatcherConcurrentTriggers(t *testing.T) {
	srv, ch := captureServer(t)

	d := newDispatcherWithSubs(&metadata.Subscription{
		ID:        1,
		TargetURL: srv.URL,
		EventName: metadata.EventItemCreated,
		Status:    "active",
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Trigger(metadata.EventItemCreated, "books", map[string]any{"id": int64(1)})
		}()
	}
	wg.Wait()
	d.Stop()

	for i := 0; i < 5; i++ {
		waitForDelivery(t, ch)
	}
}
