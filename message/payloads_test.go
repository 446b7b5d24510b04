package message

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeGroupPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload TimeGroupPayload
		wantErr bool
	}{
		{
			name: "valid",
			payload: TimeGroupPayload{
				Timestamp: 60000,
				Datapoints: []Datapoint{
					{Timestamp: 60000, Expr: "name,rps,:eq,:sum", Value: 1},
				},
			},
			wantErr: false,
		},
		{
			name:    "empty window is valid",
			payload: TimeGroupPayload{Timestamp: 60000},
			wantErr: false,
		},
		{
			name:    "missing timestamp",
			payload: TimeGroupPayload{},
			wantErr: true,
		},
		{
			name: "datapoint missing expression key",
			payload: TimeGroupPayload{
				Timestamp:  60000,
				Datapoints: []Datapoint{{Timestamp: 60000, Value: 1}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscriptionsPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload SubscriptionsPayload
		wantErr bool
	}{
		{
			name: "valid",
			payload: SubscriptionsPayload{Subscriptions: []Subscription{
				{ID: "a", URI: "http://host/api/v1/subscribe?q=name,rps,:eq,:sum"},
				{ID: "b", URI: "http://host/api/v1/subscribe?q=name,rps,:eq,:max"},
			}},
			wantErr: false,
		},
		{
			name:    "empty snapshot is valid",
			payload: SubscriptionsPayload{},
			wantErr: false,
		},
		{
			name: "missing id",
			payload: SubscriptionsPayload{Subscriptions: []Subscription{
				{URI: "http://host/api/v1/subscribe?q=name,rps,:eq,:sum"},
			}},
			wantErr: true,
		},
		{
			name: "missing uri",
			payload: SubscriptionsPayload{Subscriptions: []Subscription{
				{ID: "a"},
			}},
			wantErr: true,
		},
		{
			name: "duplicate id",
			payload: SubscriptionsPayload{Subscriptions: []Subscription{
				{ID: "a", URI: "http://host/a"},
				{ID: "a", URI: "http://host/b"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTimeSeriesPayload_NaNRoundTrip(t *testing.T) {
	payload := &TimeSeriesPayload{
		ID:        "sub-1",
		Timestamp: 60000,
		Value:     math.NaN(),
		Label:     "(NO DATA / NO DATA)",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":"NaN"`)

	var decoded TimeSeriesPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, math.IsNaN(decoded.Value))
	assert.Equal(t, payload.Label, decoded.Label)
}

func TestTimeSeriesPayload_NumericValue(t *testing.T) {
	payload := &TimeSeriesPayload{
		ID:        "sub-1",
		Timestamp: 60000,
		Tags:      map[string]string{"node": "i-1"},
		Value:     3.5,
		Label:     "name,rps,:eq,:sum (node=i-1)",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded TimeSeriesPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *payload, decoded)
}

func TestTimeSeriesPayload_RejectsBadValue(t *testing.T) {
	raw := []byte(`{"id":"s","timestamp":60000,"value":"bogus","label":"x"}`)

	var decoded TimeSeriesPayload
	err := json.Unmarshal(raw, &decoded)
	assert.Error(t, err)
}

func TestDiagnosticPayload_Validate(t *testing.T) {
	valid := DiagnosticPayload{ID: "sub-1", Message: "invalid expression: q=foo,:time"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&DiagnosticPayload{Message: "x"}).Validate())
	assert.Error(t, (&DiagnosticPayload{ID: "sub-1"}).Validate())
}

func TestPayloadSchemas(t *testing.T) {
	assert.Equal(t, "metrics.timegroup.v1", (&TimeGroupPayload{}).Schema().Key())
	assert.Equal(t, "metrics.subscriptions.v1", (&SubscriptionsPayload{}).Schema().Key())
	assert.Equal(t, "metrics.timeseries.v1", (&TimeSeriesPayload{}).Schema().Key())
	assert.Equal(t, "metrics.diagnostic.v1", (&DiagnosticPayload{}).Schema().Key())
}
