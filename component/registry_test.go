package component

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubComponent struct {
	name string
}

func (s *stubComponent) Meta() Metadata            { return Metadata{Name: s.name, Type: "processor"} }
func (s *stubComponent) InputPorts() []Port        { return nil }
func (s *stubComponent) OutputPorts() []Port       { return nil }
func (s *stubComponent) ConfigSchema() ConfigSchema { return ConfigSchema{} }
func (s *stubComponent) Health() HealthStatus      { return HealthStatus{Healthy: true} }
func (s *stubComponent) DataFlow() FlowMetrics     { return FlowMetrics{} }

func stubFactory(_ json.RawMessage, _ Dependencies) (Discoverable, error) {
	return &stubComponent{name: "stub"}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Registration{Name: "stub", Type: "processor", Factory: stubFactory})
	require.NoError(t, err)

	comp, err := r.Create("stub", "stub-1", nil, Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "stub", comp.Meta().Name)

	got, ok := r.Instance("stub-1")
	require.True(t, ok)
	assert.Same(t, comp, got)
}

func TestRegistry_DuplicateFactory(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Registration{Name: "stub", Factory: stubFactory}))
	err := r.Register(Registration{Name: "stub", Factory: stubFactory})
	assert.Error(t, err)
}

func TestRegistry_DuplicateInstance(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{Name: "stub", Factory: stubFactory}))

	_, err := r.Create("stub", "a", nil, Dependencies{})
	require.NoError(t, err)
	_, err = r.Create("stub", "a", nil, Dependencies{})
	assert.Error(t, err)
}

func TestRegistry_MissingFactory(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nope", "x", nil, Dependencies{})
	assert.Error(t, err)
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Registration{Name: "", Factory: stubFactory}))
	assert.Error(t, r.Register(Registration{Name: "x", Factory: nil}))
}

func TestPayloadRegistry(t *testing.T) {
	pr := NewPayloadRegistry()

	reg := &PayloadRegistration{
		Factory:  func() any { return &struct{}{} },
		Domain:   "metrics",
		Category: "timegroup",
		Version:  "v1",
	}
	require.NoError(t, pr.RegisterPayload(reg))
	assert.Equal(t, "metrics.timegroup.v1", reg.MessageType())

	// Duplicate registration rejected
	assert.Error(t, pr.RegisterPayload(reg))

	assert.NotNil(t, pr.CreatePayload("metrics", "timegroup", "v1"))
	assert.Nil(t, pr.CreatePayload("metrics", "unknown", "v1"))
}

func TestPortBuilding(t *testing.T) {
	def := PortDefinition{
		Name:      "datapoints",
		Type:      "nats",
		Subject:   "metrics.datapoints",
		Interface: "metrics.timegroup.v1",
		Required:  true,
	}

	port := BuildPortFromDefinition(def, DirectionInput)
	assert.Equal(t, DirectionInput, port.Direction)

	natsPort, ok := port.Config.(NATSPort)
	require.True(t, ok)
	assert.Equal(t, "metrics.datapoints", natsPort.Subject)
	assert.Equal(t, "nats:metrics.datapoints", natsPort.ResourceID())
	assert.False(t, natsPort.IsExclusive())
	require.NotNil(t, natsPort.Interface)
	assert.Equal(t, "metrics.timegroup.v1", natsPort.Interface.Type)
}
