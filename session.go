package outspeed

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go/v3/realtime"

	"github.com/bt-bridge/outspeed-realtime/tools"
)

// Session defaults (Outspeed Live API, outspeed-v1)
const (
	DefaultModel       = "outspeed-v1"
	DefaultVoice       = "sophie" // more voices at https://dashboard.outspeed.com
	DefaultTemperature = 0.5
	DefaultTurnDetect  = "semantic_vad"

	DefaultInstructions = `
You are a helpful but witty assistant for Outspeed.

Outspeed is a platform that allows you to build AI voice companions with emotions and memory.
Use Outspeed Live API to quickly deploy unlimited voice companions that scale with your users, only at $1/hr (includes LLM).

Website: https://outspeed.com
`
	DefaultFirstMessage = "Hello, how can I assist you with Outspeed today?"
)

type TurnDetection struct {
	Type string `json:"type" yaml:"type"`
}

// SessionConfig describes how the remote voice model behaves for one
// conversation. The relay forwards it without looking inside.
type SessionConfig struct {
	Model         string                               `json:"model"`
	Instructions  string                               `json:"instructions,omitempty"`
	Voice         string                               `json:"voice,omitempty"`
	Temperature   float64                              `json:"temperature,omitempty"`
	TurnDetection *TurnDetection                       `json:"turn_detection,omitempty"`
	Tools         []realtime.RealtimeFunctionToolParam `json:"tools,omitempty"`
	FirstMessage  string                               `json:"first_message,omitempty"`
	SystemTools   []tools.SystemTool                   `json:"system_tools,omitempty"`
}

// DefaultSessionConfig advertises every tool of registry to the model.
func DefaultSessionConfig(registry *tools.Registry) *SessionConfig {
	cfg := &SessionConfig{
		Model:         DefaultModel,
		Instructions:  DefaultInstructions,
		Voice:         DefaultVoice,
		Temperature:   DefaultTemperature,
		TurnDetection: &TurnDetection{Type: DefaultTurnDetect},
		FirstMessage:  DefaultFirstMessage,
	}
	if registry != nil {
		cfg.Tools = registry.Params()
		cfg.SystemTools = registry.SystemTools()
	}
	return cfg
}

func (c *SessionConfig) MarshalJSON() ([]byte, error) {
	type plain SessionConfig
	return sonic.Marshal((*plain)(c))
}

func (c *SessionConfig) MarshalYAML() ([]byte, error) {
	type plain SessionConfig
	return yaml.MarshalWithOptions((*plain)(c), yaml.UseJSONMarshaler())
}

// SessionFile is the YAML shape of a session override file. Tools always
// come from the registry, so they cannot be overridden here.
type SessionFile struct {
	Model         *string            `yaml:"model"`
	Instructions  *string            `yaml:"instructions"`
	Voice         *string            `yaml:"voice"`
	Temperature   *float64           `yaml:"temperature"`
	TurnDetection *TurnDetection     `yaml:"turn_detection"`
	FirstMessage  *string            `yaml:"first_message"`
	SystemTools   []tools.SystemTool `yaml:"system_tools"`
}

// LoadSessionConfig applies the YAML file at path on top of the defaults.
func LoadSessionConfig(path string, registry *tools.Registry) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}
	return ParseSessionConfig(data, registry)
}

func ParseSessionConfig(data []byte, registry *tools.Registry) (*SessionConfig, error) {
	var f SessionFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parsing session config: %w", err)
	}
	cfg := DefaultSessionConfig(registry)
	if f.Model != nil {
		cfg.Model = *f.Model
	}
	if f.Instructions != nil {
		cfg.Instructions = *f.Instructions
	}
	if f.Voice != nil {
		cfg.Voice = *f.Voice
	}
	if f.Temperature != nil {
		if *f.Temperature < 0 || *f.Temperature > 2 {
			return nil, fmt.Errorf("temperature %v out of range [0, 2]", *f.Temperature)
		}
		cfg.Temperature = *f.Temperature
	}
	if f.TurnDetection != nil {
		cfg.TurnDetection = f.TurnDetection
	}
	if f.FirstMessage != nil {
		cfg.FirstMessage = *f.FirstMessage
	}
	if f.SystemTools != nil {
		cfg.SystemTools = f.SystemTools
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("session config: model must not be empty")
	}
	return cfg, nil
}
