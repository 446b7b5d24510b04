package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/message"
	"github.com/jmrinaldi/atlas/natsclient"
)

// TestIntegration_EndToEnd runs the evaluator component against a real NATS
// server: register a subscriber, publish one window, read back the series.
func TestIntegration_EndToEnd(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := natsclient.NewClient(natsURL)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{
		NATSClient: client,
	})
	require.NoError(t, err)

	lc, ok := component.AsLifecycleComponent(comp)
	require.True(t, ok)
	require.NoError(t, lc.Initialize())
	require.NoError(t, lc.Start(ctx))
	defer lc.Stop(5 * time.Second)

	received := make(chan *message.TimeSeriesPayload, 4)
	err = client.Subscribe(ctx, "metrics.output.sub1", func(_ context.Context, data []byte) {
		var msg message.BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if p, ok := msg.Payload().(*message.TimeSeriesPayload); ok {
			received <- p
		}
	})
	require.NoError(t, err)

	publish := func(payload message.Payload) {
		msg := message.NewBaseMessage(payload.Schema(), payload, "test")
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		subject := "metrics.timegroup"
		if payload.Schema() == message.SubscriptionsMessage {
			subject = "metrics.subscriptions"
		}
		require.NoError(t, client.Publish(ctx, subject, data))
	}

	publish(&message.SubscriptionsPayload{Subscriptions: []message.Subscription{
		{ID: "sub1", URI: "http://host/api/v1/subscribe?q=name,rps,:eq,:sum"},
	}})

	// Let the snapshot land before the first window.
	time.Sleep(200 * time.Millisecond)

	publish(&message.TimeGroupPayload{
		Timestamp: 60000,
		Datapoints: []message.Datapoint{
			{Timestamp: 60000, Expr: "name,rps,:eq,:sum",
				Tags: map[string]string{"name": "rps", "node": "i-1"}, Value: 42.0},
			{Timestamp: 60000, Expr: "name,rps,:eq,:sum",
				Tags: map[string]string{"name": "rps", "node": "i-2"}, Value: 8.0},
		},
	})

	select {
	case p := <-received:
		assert.Equal(t, "sub1", p.ID)
		assert.Equal(t, int64(60000), p.Timestamp)
		assert.Equal(t, 50.0, p.Value)
		assert.Equal(t, "sum(name=rps)", p.Label)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for evaluated series")
	}
}

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Wait for NATS to be fully ready
	time.Sleep(100 * time.Millisecond)

	return natsContainer, natsURL
}
