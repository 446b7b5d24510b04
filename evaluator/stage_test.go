package evaluator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmrinaldi/atlas/message"
	"github.com/jmrinaldi/atlas/metric"
	"github.com/jmrinaldi/atlas/subscription"
)

const queryBase = "http://host/api/v1/subscribe?q="

// envelopeSink collects emitted envelopes in order.
type envelopeSink struct {
	mu        sync.Mutex
	envelopes []message.Envelope
}

func (s *envelopeSink) record(_ context.Context, env message.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *envelopeSink) all() []message.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

// runStage drives a stage to completion: every event is submitted, the
// input is closed, and Run is awaited so all outputs have been sinked.
func runStage(t *testing.T, events []Event) []message.Envelope {
	t.Helper()

	sink := &envelopeSink{}
	stage := NewStage(StageConfig{Workers: 4, QueueSize: 32},
		subscription.NewRegistry(nil), sink.record, nil, nil)

	done := make(chan error, 1)
	go func() { done <- stage.Run(context.Background()) }()

	in := stage.Input()
	for _, ev := range events {
		in <- ev
	}
	close(in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not drain after input close")
	}
	return sink.all()
}

func snapshot(subs ...message.Subscription) Event {
	return Event{Kind: EventSubscriptions, Subscriptions: subs}
}

func window(ts int64, datapoints ...message.Datapoint) Event {
	return Event{Kind: EventTimeGroup, Window: &message.TimeGroupPayload{
		Timestamp:  ts,
		Datapoints: datapoints,
	}}
}

func series(t *testing.T, env message.Envelope) *message.TimeSeriesPayload {
	t.Helper()
	p, ok := env.Payload.(*message.TimeSeriesPayload)
	require.True(t, ok, "expected time series payload, got %T", env.Payload)
	return p
}

func TestStage_ParseFailureEmitsOneDiagnostic(t *testing.T) {
	badURI := queryBase + "foo,:time"
	out := runStage(t, []Event{
		snapshot(
			message.Subscription{ID: "a", URI: badURI},
			message.Subscription{ID: "b", URI: queryBase + "name,rps,:eq,:sum"},
		),
	})

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].SubscriberID)
	diag, ok := out[0].Payload.(*message.DiagnosticPayload)
	require.True(t, ok)
	assert.Contains(t, diag.Message, "invalid expression")
	assert.Contains(t, diag.Message, badURI)
}

func TestStage_NoDataDivisionLabel(t *testing.T) {
	// Division where neither operand ever receives data still produces
	// exactly one message per window.
	out := runStage(t, []Event{
		snapshot(message.Subscription{ID: "a", URI: queryBase + "name,latency,:eq,:avg"}),
		window(60000),
		window(120000),
	})

	require.Len(t, out, 2)
	for _, env := range out {
		assert.Equal(t, "a", env.SubscriberID)
		p := series(t, env)
		assert.True(t, math.IsNaN(p.Value))
		assert.Equal(t, "(NO DATA / NO DATA)", p.Label)
	}
}

func TestStage_UngroupedEmitsEveryWindow(t *testing.T) {
	const key = "name,rps,:eq,:sum"
	tags := map[string]string{"name": "rps", "node": "i-1"}

	out := runStage(t, []Event{
		snapshot(message.Subscription{ID: "a", URI: queryBase + key}),
		window(60000),
		window(120000, message.Datapoint{Timestamp: 120000, Expr: key, Tags: tags, Value: 42.0}),
		window(180000, message.Datapoint{Timestamp: 180000, Expr: key, Tags: tags, Value: 43.0}),
		window(240000, message.Datapoint{Timestamp: 240000, Expr: key, Tags: tags, Value: 44.0}),
	})

	require.Len(t, out, 4)
	first := series(t, out[0])
	assert.True(t, math.IsNaN(first.Value))
	assert.Equal(t, "NO DATA", first.Label)

	want := []float64{42.0, 43.0, 44.0}
	for i, v := range want {
		p := series(t, out[i+1])
		assert.Equal(t, v, p.Value)
		assert.Equal(t, "sum(name=rps)", p.Label)
	}
}

func TestStage_SubscriberIsolation(t *testing.T) {
	const sumKey = "name,rps,:eq,:sum"
	const maxKey = "name,gc.pause,:eq,:max"
	rpsTags := map[string]string{"name": "rps"}
	gcTags := map[string]string{"name": "gc.pause"}

	out := runStage(t, []Event{
		snapshot(
			message.Subscription{ID: "rps", URI: queryBase + sumKey},
			message.Subscription{ID: "gc", URI: queryBase + maxKey},
		),
		window(60000,
			message.Datapoint{Timestamp: 60000, Expr: sumKey, Tags: rpsTags, Value: 10.0},
			message.Datapoint{Timestamp: 60000, Expr: maxKey, Tags: gcTags, Value: 2.0},
		),
		window(120000,
			message.Datapoint{Timestamp: 120000, Expr: sumKey, Tags: rpsTags, Value: 20.0},
		),
		window(180000,
			message.Datapoint{Timestamp: 180000, Expr: maxKey, Tags: gcTags, Value: 5.0},
		),
	})

	require.Len(t, out, 6)
	byID := map[string][]float64{}
	for _, env := range out {
		byID[env.SubscriberID] = append(byID[env.SubscriberID], series(t, env).Value)
	}

	require.Len(t, byID["rps"], 3)
	assert.Equal(t, 10.0, byID["rps"][0])
	assert.Equal(t, 20.0, byID["rps"][1])
	assert.True(t, math.IsNaN(byID["rps"][2]))

	require.Len(t, byID["gc"], 3)
	assert.Equal(t, 2.0, byID["gc"][0])
	assert.True(t, math.IsNaN(byID["gc"][1]))
	assert.Equal(t, 5.0, byID["gc"][2])
}

func TestStage_GroupedDivisionIntersection(t *testing.T) {
	const sumKey = "name,rps,:eq,:sum,(,node,),:by"
	const countKey = "name,rps,:eq,:count,(,node,),:by"
	uri := queryBase + "name,rps,:eq,:sum,(,node,),:by,name,rps,:eq,:count,(,node,),:by,:div"

	tagsFor := func(node string) map[string]string {
		return map[string]string{"name": "rps", "node": node}
	}

	out := runStage(t, []Event{
		snapshot(message.Subscription{ID: "a", URI: uri}),
		// Window 0: i-1 complete, i-2 missing its sum.
		window(60000,
			message.Datapoint{Timestamp: 60000, Expr: sumKey, Tags: tagsFor("i-1"), Value: 42.0},
			message.Datapoint{Timestamp: 60000, Expr: countKey, Tags: tagsFor("i-1"), Value: 1.0},
			message.Datapoint{Timestamp: 60000, Expr: countKey, Tags: tagsFor("i-2"), Value: 2.0},
		),
		// Window 1: both complete.
		window(120000,
			message.Datapoint{Timestamp: 120000, Expr: sumKey, Tags: tagsFor("i-1"), Value: 42.0},
			message.Datapoint{Timestamp: 120000, Expr: countKey, Tags: tagsFor("i-1"), Value: 1.0},
			message.Datapoint{Timestamp: 120000, Expr: sumKey, Tags: tagsFor("i-2"), Value: 42.0},
			message.Datapoint{Timestamp: 120000, Expr: countKey, Tags: tagsFor("i-2"), Value: 2.0},
		),
		// Window 2: i-1 missing its count, i-2 complete.
		window(180000,
			message.Datapoint{Timestamp: 180000, Expr: sumKey, Tags: tagsFor("i-1"), Value: 42.0},
			message.Datapoint{Timestamp: 180000, Expr: sumKey, Tags: tagsFor("i-2"), Value: 42.0},
			message.Datapoint{Timestamp: 180000, Expr: countKey, Tags: tagsFor("i-2"), Value: 2.0},
		),
	})

	// Only intersecting tag sets emit: i-1 in windows 0 and 1, i-2 in
	// windows 1 and 2.
	require.Len(t, out, 4)

	type emission struct {
		ts    int64
		node  string
		value float64
	}
	got := make([]emission, 0, len(out))
	for _, env := range out {
		p := series(t, env)
		got = append(got, emission{ts: p.Timestamp, node: p.Tags["node"], value: p.Value})
	}
	assert.Equal(t, []emission{
		{60000, "i-1", 42.0},
		{120000, "i-1", 42.0},
		{120000, "i-2", 21.0},
		{180000, "i-2", 21.0},
	}, got)
}

func TestStage_EmissionFollowsRegistrationOrder(t *testing.T) {
	const key = "name,rps,:eq,:sum"
	tags := map[string]string{"name": "rps"}

	events := []Event{snapshot(
		message.Subscription{ID: "c", URI: queryBase + key},
		message.Subscription{ID: "a", URI: queryBase + key},
		message.Subscription{ID: "b", URI: queryBase + key},
	)}
	for i := int64(1); i <= 3; i++ {
		events = append(events, window(i*60000,
			message.Datapoint{Timestamp: i * 60000, Expr: key, Tags: tags, Value: 1.0}))
	}

	out := runStage(t, events)
	require.Len(t, out, 9)
	for w := 0; w < 3; w++ {
		assert.Equal(t, "c", out[w*3+0].SubscriberID)
		assert.Equal(t, "a", out[w*3+1].SubscriberID)
		assert.Equal(t, "b", out[w*3+2].SubscriberID)
	}
}

func TestStage_RegistryChangesApplyToNextWindow(t *testing.T) {
	const key = "name,rps,:eq,:sum"
	tags := map[string]string{"name": "rps"}

	out := runStage(t, []Event{
		snapshot(message.Subscription{ID: "a", URI: queryBase + key}),
		window(60000, message.Datapoint{Timestamp: 60000, Expr: key, Tags: tags, Value: 1.0}),
		snapshot(), // remove everyone
		window(120000, message.Datapoint{Timestamp: 120000, Expr: key, Tags: tags, Value: 2.0}),
	})

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].SubscriberID)
	assert.Equal(t, 1.0, series(t, out[0]).Value)
}

func TestStage_PoolMetricsRegistered(t *testing.T) {
	const key = "name,rps,:eq,:sum"

	sink := &envelopeSink{}
	registry := metric.NewMetricsRegistry()
	stage := NewStage(StageConfig{Workers: 2, QueueSize: 8},
		subscription.NewRegistry(nil), sink.record, nil, registry)

	done := make(chan error, 1)
	go func() { done <- stage.Run(context.Background()) }()

	in := stage.Input()
	in <- snapshot(message.Subscription{ID: "a", URI: queryBase + key})
	in <- window(60000, message.Datapoint{
		Timestamp: 60000, Expr: key, Tags: map[string]string{"name": "rps"}, Value: 1.0,
	})
	close(in)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not drain after input close")
	}

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["evaluator_pool_queue_depth"], "pool gauge not registered")
	assert.True(t, found["evaluator_pool_submitted_total"], "pool counter not registered")
	assert.True(t, found["evaluator_pool_processing_duration_seconds"], "pool histogram not registered")
}

func TestStage_WindowHandoffWaitsForEmission(t *testing.T) {
	// With the default unbuffered input, the next window is not accepted
	// until every output for the previous one has reached the sink.
	const key = "name,rps,:eq,:sum"

	release := make(chan struct{})
	var emitted atomic.Int32
	sink := func(_ context.Context, _ message.Envelope) error {
		<-release
		emitted.Add(1)
		return nil
	}
	stage := NewStage(StageConfig{Workers: 2, QueueSize: 8},
		subscription.NewRegistry(nil), sink, nil, nil)

	done := make(chan error, 1)
	go func() { done <- stage.Run(context.Background()) }()

	in := stage.Input()
	in <- snapshot(message.Subscription{ID: "a", URI: queryBase + key})
	in <- window(60000, message.Datapoint{
		Timestamp: 60000, Expr: key, Tags: map[string]string{"name": "rps"}, Value: 1.0,
	})

	second := window(120000)
	select {
	case in <- second:
		t.Fatal("second window accepted before first window's output was emitted")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(0), emitted.Load())

	close(release)
	select {
	case in <- second:
	case <-time.After(5 * time.Second):
		t.Fatal("second window not accepted after first window drained")
	}
	close(in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not drain after input close")
	}
	assert.Equal(t, int32(2), emitted.Load())
}

func TestStage_ContextCancelStopsRun(t *testing.T) {
	sink := &envelopeSink{}
	stage := NewStage(StageConfig{Workers: 2, QueueSize: 8},
		subscription.NewRegistry(nil), sink.record, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not stop on context cancel")
	}
}
