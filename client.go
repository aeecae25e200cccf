package outspeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bt-bridge/outspeed-realtime/shared"
	"github.com/bt-bridge/outspeed-realtime/tools"
)

type ConversationState int

const (
	StateIdle ConversationState = iota
	StateConnecting
	StateActive
)

func (s ConversationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("ConversationState(%d)", int(s))
}

// Transport is the boundary to the realtime SDK that owns audio and the
// connection to Outspeed. Send is never called concurrently.
type Transport interface {
	Start(ctx context.Context, ephemeralKey string, cfg *SessionConfig) error
	Send(event *ClientEvent) error
	Close() error
}

// KeySource issues ephemeral keys; *TokenClient is the production one.
type KeySource interface {
	EphemeralKey(ctx context.Context, cfg *SessionConfig) (string, error)
}

type EventHandler func(event *ServerEvent)

type StateHandler func(prev, next ConversationState)

// Conversation owns the session state of one user and answers the model's
// tool calls through the registry.
type Conversation struct {
	logger    shared.LoggerAdapter
	cfg       *SessionConfig
	keys      KeySource
	transport Transport
	registry  *tools.Registry

	mu        sync.Mutex
	state     ConversationState
	closing   bool
	handled   map[string]struct{}
	listeners []EventHandler
	onState   StateHandler
	ctx       context.Context
	cancel    context.CancelCauseFunc

	sendMu sync.Mutex
	calls  sync.WaitGroup
}

func NewConversation(
	logger shared.LoggerAdapter,
	cfg *SessionConfig,
	keys KeySource,
	transport Transport,
	registry *tools.Registry,
) (*Conversation, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if keys == nil {
		return nil, errors.New("no key source provided")
	}
	if transport == nil {
		return nil, shared.ErrNoTransport
	}
	if registry == nil {
		return nil, shared.ErrNoRegistry
	}
	return &Conversation{
		logger:    logger.With(zap.String("component", "conversation")),
		cfg:       cfg,
		keys:      keys,
		transport: transport,
		registry:  registry,
		handled:   make(map[string]struct{}),
	}, nil
}

func (c *Conversation) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnEvent registers a listener that sees every server event.
func (c *Conversation) OnEvent(h EventHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, h)
}

func (c *Conversation) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

// setState must be called with c.mu held; the returned func runs the state
// handler and must be called after unlocking.
func (c *Conversation) setState(next ConversationState) func() {
	prev := c.state
	c.state = next
	h := c.onState
	if prev == next || h == nil {
		return func() {}
	}
	c.logger.Debug("conversation state changed",
		zap.String("prev", prev.String()),
		zap.String("new", next.String()),
	)
	return func() { h(prev, next) }
}

// StartSession fetches an ephemeral key and hands it to the transport.
// session.created may arrive before Start returns; both mark the session
// active.
func (c *Conversation) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	clear(c.handled)
	notify := c.setState(StateConnecting)
	c.mu.Unlock()
	notify()

	fail := func(err error) error {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel(err)
			c.cancel = nil
		}
		notify := c.setState(StateIdle)
		c.mu.Unlock()
		notify()
		c.logger.Error("starting session", err)
		return err
	}

	key, err := c.keys.EphemeralKey(ctx, c.cfg)
	if err != nil {
		return fail(fmt.Errorf("getting ephemeral key: %w", err))
	}
	if err := c.transport.Start(ctx, key, c.cfg); err != nil {
		return fail(fmt.Errorf("starting transport: %w", err))
	}

	c.mu.Lock()
	if c.state == StateIdle || c.ctx.Err() != nil {
		// EndSession won the race.
		c.mu.Unlock()
		_ = c.transport.Close()
		return shared.ErrSessionNotRunning
	}
	notify = c.setState(StateActive)
	c.mu.Unlock()
	notify()
	c.logger.Info("session started")
	return nil
}

// EndSession closes the transport. The state returns to idle even when
// closing fails. Only the first of concurrent callers closes the transport;
// the others return at once.
func (c *Conversation) EndSession() error {
	c.mu.Lock()
	if c.state == StateIdle || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	if c.cancel != nil {
		c.cancel(errors.New("session ended"))
		c.cancel = nil
	}
	c.mu.Unlock()

	err := c.transport.Close()
	c.calls.Wait()

	c.mu.Lock()
	c.closing = false
	notify := c.setState(StateIdle)
	c.mu.Unlock()
	notify()

	if err != nil {
		c.logger.Error("ending session", err)
		return fmt.Errorf("closing transport: %w", err)
	}
	c.logger.Info("session ended")
	return nil
}

// Wait blocks until every tool call dispatched so far has answered.
func (c *Conversation) Wait() {
	c.calls.Wait()
}

// OnDisconnect is called by the transport when the remote side hangs up.
func (c *Conversation) OnDisconnect() {
	c.logger.Info("disconnected, cleaning up")
	if err := c.EndSession(); err != nil {
		c.logger.Error("cleaning up after disconnect", err)
	}
}

// HandleMessage decodes one raw server event and handles it.
func (c *Conversation) HandleMessage(data []byte) error {
	event := new(ServerEvent)
	if err := event.UnmarshalJSON(data); err != nil {
		c.logger.Error("can not unmarshal event", err, zap.ByteString("data", data))
		return err
	}
	c.HandleEvent(event)
	return nil
}

func (c *Conversation) HandleEvent(event *ServerEvent) {
	c.mu.Lock()
	listeners := append([]EventHandler(nil), c.listeners...)
	c.mu.Unlock()

	c.logger.Trace("received event",
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventId),
	)
	for _, l := range listeners {
		l(event)
	}

	switch event.Type {
	case ServerEventTypeSessionCreated:
		c.mu.Lock()
		if c.state == StateIdle {
			c.mu.Unlock()
			c.logger.Warn("session.created after session ended")
			return
		}
		notify := c.setState(StateActive)
		c.mu.Unlock()
		notify()
		return
	case ServerEventTypeError:
		if p, ok := event.Param.(*ServerEventParamError); ok {
			c.logger.Warn("server reported error",
				zap.String("code", p.Code),
				zap.String("message", p.Message),
			)
		}
		return
	}

	call, ok := event.FunctionCall()
	if !ok {
		return
	}
	c.mu.Lock()
	if c.state == StateIdle || c.ctx.Err() != nil {
		c.mu.Unlock()
		c.logger.Warn("tool call outside an active session", zap.String("tool", call.Name))
		return
	}
	if _, dup := c.handled[call.CallId]; dup {
		c.mu.Unlock()
		return
	}
	c.handled[call.CallId] = struct{}{}
	ctx := c.ctx
	c.calls.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.calls.Done()
		c.dispatch(ctx, call)
	}()
}

// dispatch runs one tool call. Calls run concurrently and in no particular
// order; the model always receives a textual output.
func (c *Conversation) dispatch(ctx context.Context, call FunctionCall) {
	logger := c.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.CallId))
	output, err := c.registry.Call(ctx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		logger.Error("dispatching tool call", err)
		output = err.Error()
	}
	if ctx.Err() != nil {
		logger.Debug("session ended before tool output was sent")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.transport.Send(NewFunctionCallOutput(call.CallId, output)); err != nil {
		logger.Error("sending tool output", err)
		return
	}
	if err := c.transport.Send(NewResponseCreate()); err != nil {
		logger.Error("requesting response after tool output", err)
	}
}
