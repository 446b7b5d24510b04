package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Platform: PlatformConfig{
			Org: "netops",
			ID:  "eval-1",
		},
		NATS: NATSConfig{
			URLs: []string{"nats://localhost:4222"},
		},
		Components: ComponentConfigs{
			"evaluator": ComponentConfig{
				Type:    ComponentTypeProcessor,
				Name:    "evaluator",
				Enabled: true,
				Config:  json.RawMessage(`{}`),
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_MissingOrg(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = ""
	assert.ErrorContains(t, cfg.Validate(), "platform.org is required")
}

func TestConfig_Validate_NormalizesOrg(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "NetOps"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "netops", cfg.Platform.Org)
}

func TestConfig_Validate_BadOrgCharacters(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "net ops"
	assert.ErrorContains(t, cfg.Validate(), "not valid for NATS subjects")
}

func TestConfig_Validate_MissingID(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.ID = ""
	assert.ErrorContains(t, cfg.Validate(), "platform.id is required")
}

func TestConfig_Validate_NoNATSURLs(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.URLs = nil
	assert.ErrorContains(t, cfg.Validate(), "at least one URL")
}

func TestConfig_Validate_BadMetricsPort(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = MetricsConfig{Enabled: true, Port: 99999}
	assert.ErrorContains(t, cfg.Validate(), "metrics.port")
}

func TestConfig_Validate_BadComponent(t *testing.T) {
	cfg := validConfig()
	cfg.Components["broken"] = ComponentConfig{Type: "gateway", Name: "x"}
	assert.ErrorContains(t, cfg.Validate(), "component broken")
}

func TestComponentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ComponentConfig
		wantErr string
	}{
		{"valid output", ComponentConfig{Type: ComponentTypeOutput, Name: "websocket"}, ""},
		{"missing type", ComponentConfig{Name: "websocket"}, "type cannot be empty"},
		{"missing name", ComponentConfig{Type: ComponentTypeOutput}, "name cannot be empty"},
		{"unknown type", ComponentConfig{Type: "storage", Name: "x"}, "invalid component type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Clone_IsDeep(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()

	clone.Platform.Org = "other"
	clone.NATS.URLs[0] = "nats://elsewhere:4222"
	clone.Components["evaluator"] = ComponentConfig{Type: ComponentTypeOutput, Name: "changed"}

	assert.Equal(t, "netops", cfg.Platform.Org)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.Equal(t, "evaluator", cfg.Components["evaluator"].Name)
}

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Platform.Org = "mutated"

	assert.Equal(t, "netops", sc.Get().Platform.Org)
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	bad := validConfig()
	bad.Platform.Org = ""
	assert.Error(t, sc.Update(bad))
	assert.Equal(t, "netops", sc.Get().Platform.Org)

	good := validConfig()
	good.Platform.Org = "ocean"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "ocean", sc.Get().Platform.Org)
}

func TestSafeConfig_UpdateNil(t *testing.T) {
	sc := NewSafeConfig(nil)
	assert.Error(t, sc.Update(nil))
}

func TestNATSConfig_URL(t *testing.T) {
	n := NATSConfig{URLs: []string{"nats://a:4222", "nats://b:4222"}}
	assert.Equal(t, "nats://a:4222,nats://b:4222", n.URL())
}

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.True(t, cfg.Components["evaluator"].Enabled)
	assert.True(t, cfg.Components["websocket"].Enabled)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "base.json", `{
		"platform": {"org": "netops", "id": "eval-1"},
		"nats": {"urls": ["nats://broker:4222"], "reconnect_wait": "5s"}
	}`)

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "netops", cfg.Platform.Org)
	assert.Equal(t, []string{"nats://broker:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	// Untouched defaults survive the merge
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoader_LayerMerge(t *testing.T) {
	dir := t.TempDir()
	base := writeConfigFile(t, dir, "base.json", `{
		"platform": {"org": "netops", "id": "eval-1"},
		"metrics": {"enabled": true, "port": 9100, "path": "/metrics"}
	}`)
	override := writeConfigFile(t, dir, "prod.json", `{
		"platform": {"environment": "prod"},
		"metrics": {"port": 9200}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "netops", cfg.Platform.Org)
	assert.Equal(t, "prod", cfg.Platform.Environment)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ATLAS_PLATFORM_ORG", "ocean")
	t.Setenv("ATLAS_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("ATLAS_NATS_TOKEN", "secret")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "ocean", cfg.Platform.Org)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Token)
}

func TestLoader_ValidationFailure(t *testing.T) {
	loader := NewLoader()
	loader.EnableValidation(true)
	_, err := loader.Load()
	assert.ErrorContains(t, err, "platform.org is required")
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoader_RejectsNonJSONPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	loader := NewLoader()
	_, err := loader.LoadFile(path)
	assert.ErrorContains(t, err, "only JSON config files allowed")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": {"b": [1, 2, {"c": "}"}]}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": {`)))

	deep := ""
	for i := 0; i < maxJSONDepth+1; i++ {
		deep += "["
	}
	assert.ErrorContains(t, validateJSONDepth([]byte(deep)), "nesting too deep")
}
