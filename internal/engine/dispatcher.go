package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/istefan/ahoi-api/internal/metadata"
)

// EventPayload is the JSON body sent to webhook endpoints.
type EventPayload struct {
	Event     string         `json:"event"`
	Structure string         `json:"structure"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

type delivery struct {
	targetURL      string
	payload        *EventPayload
	idempotencyKey string
}

// DispatcherConfig sizes the delivery pipeline.
type DispatcherConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	Workers      int
	QueueSize    int
}

// Dispatcher delivers webhook events asynchronously through a bounded
// queue and a fixed worker pool. A full queue drops the delivery rather
// than blocking the request path.
type Dispatcher struct {
	registry *metadata.Registry
	client   *http.Client
	queue    chan delivery
	workers  int
	wg       sync.WaitGroup

	mu       sync.Mutex
	programs map[int64]*vm.Program // compiled conditions keyed by subscription id
}

func NewDispatcher(reg *metadata.Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	maxRedirects := cfg.MaxRedirects
	return &Dispatcher{
		registry: reg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		queue:    make(chan delivery, cfg.QueueSize),
		workers:  cfg.Workers,
		programs: make(map[int64]*vm.Program),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop closes the queue and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

// Trigger enqueues deliveries for every active subscription matching
// the event. Safe to call from request handlers; never blocks.
func (d *Dispatcher) Trigger(event, structureSlug string, data map[string]any) {
	payload := &EventPayload{
		Event:     event,
		Structure: structureSlug,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	for _, sub := range d.registry.Subscriptions() {
		if !sub.Matches(event, structureSlug) {
			continue
		}

		fire, err := d.evaluateCondition(sub, payload)
		if err != nil {
			log.Printf("ERROR: webhook %d condition evaluation: %v", sub.ID, err)
			continue
		}
		if !fire {
			continue
		}

		del := delivery{
			targetURL:      sub.TargetURL,
			payload:        payload,
			idempotencyKey: "wh_" + uuid.New().String(),
		}
		select {
		case d.queue <- del:
		default:
			log.Printf("WARN: webhook queue full, dropping %s delivery to %s", event, sub.TargetURL)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.queue {
		d.deliver(del)
	}
}

func (d *Dispatcher) deliver(del delivery) {
	bodyJSON, err := json.Marshal(del.payload)
	if err != nil {
		log.Printf("ERROR: marshal webhook payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, del.targetURL, bytes.NewReader(bodyJSON))
	if err != nil {
		log.Printf("ERROR: build webhook request for %s: %v", del.targetURL, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ahoi-Event", del.payload.Event)
	req.Header.Set("X-Ahoi-Delivery", del.idempotencyKey)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("ERROR: webhook delivery to %s: %v", del.targetURL, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("WARN: webhook delivery to %s returned HTTP %d", del.targetURL, resp.StatusCode)
	}
}

// evaluateCondition runs the subscription's condition expression, if
// any. Programs are compiled once and cached by subscription id.
func (d *Dispatcher) evaluateCondition(sub *metadata.Subscription, payload *EventPayload) (bool, error) {
	if sub.Condition == "" {
		return true, nil
	}

	d.mu.Lock()
	prog, ok := d.programs[sub.ID]
	d.mu.Unlock()

	if !ok {
		var err error
		prog, err = expr.Compile(sub.Condition, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition: %w", err)
		}
		d.mu.Lock()
		d.programs[sub.ID] = prog
		d.mu.Unlock()
	}

	env := map[string]any{
		"event":     payload.Event,
		"structure": payload.Structure,
		"data":      payload.Data,
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}
	return b, nil
}

// InvalidateConditions drops cached condition programs. Called after
// admin mutations change the subscription set.
func (d *Dispatcher) InvalidateConditions() {
	d.mu.Lock()
	d.programs = make(map[int64]*vm.Program)
	d.mu.Unlock()
}
