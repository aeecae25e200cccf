package agents

import (
	"context"
	"errors"
	"sync"

	pkg "github.com/bt-bridge/outspeed-realtime"
	"github.com/bt-bridge/outspeed-realtime/shared"
)

// PrinterTransport stands in for the realtime SDK on a terminal. It takes
// the ephemeral key and prints every client event instead of sending it.
type PrinterTransport struct {
	printer *shared.Printer

	mu      sync.Mutex
	started bool
}

var _ pkg.Transport = (*PrinterTransport)(nil)

func NewPrinterTransport(printer *shared.Printer) (*PrinterTransport, error) {
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	return &PrinterTransport{printer: printer}, nil
}

func (t *PrinterTransport) Start(_ context.Context, ephemeralKey string, cfg *pkg.SessionConfig) error {
	if ephemeralKey == "" {
		return errors.New("empty ephemeral key")
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return shared.ErrSessionAlreadyRunning
	}
	t.started = true
	return t.printer.Writef(0, "🔑 Ephemeral key acquired for %s: %s\n", cfg.Model, maskKey(ephemeralKey))
}

func (t *PrinterTransport) Send(event *pkg.ClientEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return shared.ErrSessionNotRunning
	}
	out, err := event.MarshalYAML()
	if err != nil {
		return err
	}
	if err := t.printer.Writef(0, "📤 %s", event.Type); err != nil {
		return err
	}
	return t.printer.Writeln(string(out), 1)
}

func (t *PrinterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false
	return t.printer.Writeln("👋 Session closed\n", 0)
}

func maskKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "..."
}
