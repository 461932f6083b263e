// Package router fans events out to the sessions of one space.
//
// A Route call encodes its event once, takes a registry snapshot of the
// space and writes to every recipient except the event's origin. Each write
// is independent: a failing recipient is reported in the DeliveryReport and
// counted, and never stops delivery to the others. The router does not remove
// sessions from the registry; the connection that owns a broken session
// notices and cleans up after itself.
//
// Route returns only after every write it started has finished, so events
// routed one after another by the same sender reach each recipient in that
// order.
//
// A Join is exchanged only with sessions registered before the joiner: they
// receive its Spawn and it receives one Spawn for each of them. Sessions
// registered later do the same from their own Join, so two sessions joining
// concurrently see each other's Spawn exactly once.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wricardo/spacerelay/relay/metrics"
	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/relay/session"
)

const tracerName = "github.com/wricardo/spacerelay/relay/router"

// ModelResolver supplies the avatar model announced when a session spawns.
type ModelResolver interface {
	ModelURL(space uuid.UUID, identity string) string
}

// DeliveryError reports a failed write to one recipient.
type DeliveryError struct {
	Identity string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Identity, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliveryReport summarizes one Route call.
type DeliveryReport struct {
	Kind       string
	Recipients int
	Delivered  int
	Failures   []*DeliveryError
}

// Router delivers events to the sessions of a space.
type Router struct {
	registry *session.Registry
	models   ModelResolver
	metrics  *metrics.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
}

// New creates a router over registry. models and m may be nil.
func New(registry *session.Registry, models ModelResolver, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		models:   models,
		metrics:  m,
		log:      logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Route delivers ev to every session in space other than its origin.
func (r *Router) Route(ctx context.Context, ev Event, space uuid.UUID) DeliveryReport {
	start := time.Now()
	report := DeliveryReport{Kind: ev.Kind()}

	_, span := r.tracer.Start(ctx, "router.Route",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("relay.event_kind", ev.Kind()),
			attribute.String("relay.space_id", space.String()),
			attribute.String("relay.origin", ev.Origin()),
		),
	)
	defer span.End()

	data, err := protocol.Encode(r.serverEvent(ev, space, ev.Origin()))
	if err != nil {
		// Only reachable for non-finite coordinates.
		r.log.Error("encode event", "kind", ev.Kind(), "origin", ev.Origin(), "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return report
	}

	snapshot := r.registry.SnapshotForSpace(space)
	recipients := make([]*session.Session, 0, len(snapshot))
	var origin *session.Session
	for _, s := range snapshot {
		if s.Identity == ev.Origin() {
			origin = s
			continue
		}
		recipients = append(recipients, s)
	}

	batches := []delivery{{data: data, to: recipients}}
	if _, ok := ev.(Join); ok && origin != nil {
		// Later sessions meet the joiner through their own Join.
		earlier := make([]*session.Session, 0, len(recipients))
		for _, s := range recipients {
			if s.RegisteredBefore(origin) {
				earlier = append(earlier, s)
			}
		}
		batches = []delivery{{data: data, to: earlier}}
		batches = append(batches, r.introductions(space, origin, earlier)...)
	}

	for _, b := range batches {
		r.deliver(b, &report)
	}

	for _, f := range report.Failures {
		r.log.Warn("delivery failed",
			"kind", ev.Kind(),
			"origin", ev.Origin(),
			"recipient", f.Identity,
			"space_id", space,
			"err", f.Err)
	}

	span.SetAttributes(
		attribute.Int("relay.recipients", report.Recipients),
		attribute.Int("relay.failed", len(report.Failures)),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "partial delivery")
	}

	r.metrics.Routed(ev.Kind(), report.Delivered, len(report.Failures), time.Since(start))
	return report
}

type delivery struct {
	data []byte
	to   []*session.Session
}

// introductions builds one Spawn per existing peer for a session that just
// joined.
func (r *Router) introductions(space uuid.UUID, joiner *session.Session, peers []*session.Session) []delivery {
	out := make([]delivery, 0, len(peers))
	for _, p := range peers {
		data, err := protocol.Encode(r.spawn(space, p.Identity))
		if err != nil {
			continue
		}
		out = append(out, delivery{data: data, to: []*session.Session{joiner}})
	}
	return out
}

// deliver writes b.data to every session in b.to, concurrently when there is
// more than one, and waits for all writes.
func (r *Router) deliver(b delivery, report *DeliveryReport) {
	report.Recipients += len(b.to)
	if len(b.to) == 0 {
		return
	}

	errs := make([]error, len(b.to))
	if len(b.to) == 1 {
		errs[0] = b.to[0].Send(b.data)
	} else {
		var wg sync.WaitGroup
		for i, s := range b.to {
			wg.Add(1)
			go func(i int, s *session.Session) {
				defer wg.Done()
				errs[i] = s.Send(b.data)
			}(i, s)
		}
		wg.Wait()
	}

	for i, err := range errs {
		if err != nil {
			report.Failures = append(report.Failures, &DeliveryError{Identity: b.to[i].Identity, Err: err})
			continue
		}
		report.Delivered++
	}
}

func (r *Router) serverEvent(ev Event, space uuid.UUID, origin string) protocol.ServerEvent {
	switch e := ev.(type) {
	case Join:
		return r.spawn(space, origin)
	case Move:
		return protocol.MoveEvent{ID: e.Identity, X: e.X, Y: e.Y}
	case Chat:
		return protocol.ChatEvent{ID: e.Identity, Message: e.Message}
	case Leave:
		return protocol.DespawnEvent{ID: e.Identity}
	default:
		panic(fmt.Sprintf("router: unhandled event %T", ev))
	}
}

func (r *Router) spawn(space uuid.UUID, identity string) protocol.SpawnEvent {
	ev := protocol.SpawnEvent{ID: identity}
	if r.models != nil {
		ev.ModelURL = r.models.ModelURL(space, identity)
	}
	return ev
}
