package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	pkg "github.com/bt-bridge/outspeed-realtime"
	"github.com/bt-bridge/outspeed-realtime/shared"
	"github.com/bt-bridge/outspeed-realtime/tools"
)

// Status card texts, one pair per conversation state.
const (
	StatusReady      string = "Ready to Connect"
	StatusConnecting string = "Connecting..."
	StatusActive     string = "Session Active"

	HeadlineReady  string = "Start Your Session"
	HeadlineActive string = "Voice Assistant is Live"
)

// CLIAgent is the terminal rendition of the demo page: a status card that
// follows the conversation state and a listing of the available tools.
type CLIAgent struct {
	logger   shared.LoggerAdapter
	printer  *shared.Printer
	conv     *pkg.Conversation
	registry *tools.Registry
	cfg      *pkg.SessionConfig

	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
}

func NewCLIAgent(
	logger shared.LoggerAdapter,
	printer *shared.Printer,
	conv *pkg.Conversation,
	registry *tools.Registry,
	cfg *pkg.SessionConfig,
) (*CLIAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	if conv == nil {
		return nil, errors.New("no conversation provided")
	}
	if registry == nil {
		return nil, shared.ErrNoRegistry
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	a := &CLIAgent{
		logger:   logger.With(zap.String("component", "cli-agent")),
		printer:  printer,
		conv:     conv,
		registry: registry,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	conv.OnStateChange(func(prev, next pkg.ConversationState) {
		a.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
		if err := a.RenderStatus(next); err != nil {
			a.logger.Error("printing status", err)
		}
		if prev != pkg.StateIdle && next == pkg.StateIdle {
			a.finish()
		}
	})
	return a, nil
}

// Spawn prints the page, then starts the session. A failed start leaves the
// card on "Ready to Connect" and returns the error.
func (a *CLIAgent) Spawn(ctx context.Context) error {
	a.logger.Info("spawning CLI agent")
	if err := a.printer.Writeln("🤖 AI Voice Assistant\n", 0); err != nil {
		a.logger.Error("printing header", err)
	}
	if err := a.RenderConfig(); err != nil {
		return err
	}
	if err := a.RenderTools(); err != nil {
		return err
	}
	if err := a.RenderStatus(a.conv.State()); err != nil {
		a.logger.Error("printing status", err)
	}
	if err := a.conv.StartSession(ctx); err != nil {
		if err := a.printer.Writef(0, "❌ Unable to start the session: %v\n", err); err != nil {
			a.logger.Error("printing start failure", err)
		}
		return err
	}
	return nil
}

// RenderStatus prints the status card for the given state.
func (a *CLIAgent) RenderStatus(state pkg.ConversationState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	badge, headline, hint := StatusReady, HeadlineReady, "Run the agent to begin your conversation"
	switch state {
	case pkg.StateConnecting:
		badge = StatusConnecting
	case pkg.StateActive:
		badge, headline, hint = StatusActive, HeadlineActive, "You can now speak with the AI assistant"
	}
	if err := a.printer.Writef(0, "● %s", badge); err != nil {
		return err
	}
	if err := a.printer.Writeln(headline, 1); err != nil {
		return err
	}
	return a.printer.Writeln(hint+"\n", 1)
}

// RenderTools lists client and system tools the way the page footer does.
func (a *CLIAgent) RenderTools() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.printer.Writeln("🧰 Available Tools", 0); err != nil {
		return err
	}
	for _, d := range a.registry.Declarations() {
		if err := a.printer.Writef(1, "%s: %s", d.Name, d.Description); err != nil {
			return err
		}
	}
	for _, st := range a.registry.SystemTools() {
		state := "disabled"
		if st.Enabled {
			state = "enabled"
		}
		if err := a.printer.Writef(1, "%s (system, %s)", st.Name, state); err != nil {
			return err
		}
	}
	return a.printer.Writeln("", 0)
}

// RenderConfig prints the session configuration as YAML.
func (a *CLIAgent) RenderConfig() error {
	out, err := a.cfg.MarshalYAML()
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return fmt.Errorf("marshaling session config: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.printer.Writeln("📋 Session Config\n", 0); err != nil {
		return err
	}
	return a.printer.Writeln(string(out), 1)
}

// Done is closed once a started session returns to idle.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

func (a *CLIAgent) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Close ends the session; the agent is done afterwards either way.
func (a *CLIAgent) Close() error {
	defer a.finish()
	return a.conv.EndSession()
}
