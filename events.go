package outspeed

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types the conversation reacts to. Everything else is decoded
// as ServerEventParamGeneric and only logged.
const (
	ServerEventTypeError                             ServerEventType = "error"
	ServerEventTypeSessionCreated                    ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                    ServerEventType = "session.updated"
	ServerEventTypeResponseFunctionCallArgumentsDone ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeResponseOutputItemDone            ServerEventType = "response.output_item.done"
)

// Client event types
const (
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	m, err := flatten(e.EventId, EventType(e.Type), e.Param)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(m)
}

func (e *ServerEvent) MarshalYAML() ([]byte, error) {
	m, err := flatten(e.EventId, EventType(e.Type), e.Param)
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(m, yaml.UseJSONMarshaler())
}

// UnmarshalJSON decodes any server event. event_id is optional because some
// servers omit it on synthetic events.
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated:
		e.Param = new(ServerEventParamSessionCreated)
	case ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSessionUpdated)
	case ServerEventTypeResponseFunctionCallArgumentsDone:
		e.Param = new(ServerEventParamFunctionCallArgumentsDone)
	case ServerEventTypeResponseOutputItemDone:
		e.Param = new(ServerEventParamResponseOutputItemDone)
	default:
		e.Param = new(ServerEventParamGeneric)
	}
	if err := e.Param.New(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return nil
}

// FunctionCall is a tool call requested by the model.
type FunctionCall struct {
	CallId    string
	Name      string
	Arguments string
}

// FunctionCall reports the tool call carried by e, if any.
func (e *ServerEvent) FunctionCall() (FunctionCall, bool) {
	switch p := e.Param.(type) {
	case *ServerEventParamFunctionCallArgumentsDone:
		if p.Name == "" || p.CallId == "" {
			return FunctionCall{}, false
		}
		return FunctionCall{CallId: p.CallId, Name: p.Name, Arguments: p.Arguments}, true
	case *ServerEventParamResponseOutputItemDone:
		if p.Item.Type != "function_call" || p.Item.Name == "" || p.Item.CallId == "" {
			return FunctionCall{}, false
		}
		return FunctionCall{CallId: p.Item.CallId, Name: p.Item.Name, Arguments: p.Item.Arguments}, true
	}
	return FunctionCall{}, false
}

type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   EventParam
}

func NewClientEvent(t ClientEventType, p EventParam) *ClientEvent {
	return &ClientEvent{
		EventId: "evt_" + uuid.NewString(),
		Type:    t,
		Param:   p,
	}
}

// NewFunctionCallOutput answers the tool call callId with output.
func NewFunctionCallOutput(callId, output string) *ClientEvent {
	return NewClientEvent(ClientEventTypeConversationItemCreate, &ClientEventParamFunctionCallOutput{
		CallId: callId,
		Output: output,
	})
}

// NewResponseCreate asks the model to continue after tool outputs.
func NewResponseCreate() *ClientEvent {
	return NewClientEvent(ClientEventTypeResponseCreate, new(ClientEventParamResponseCreate))
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	m, err := flatten(e.EventId, EventType(e.Type), e.Param)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(m)
}

func (e *ClientEvent) MarshalYAML() ([]byte, error) {
	m, err := flatten(e.EventId, EventType(e.Type), e.Param)
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(m, yaml.UseJSONMarshaler())
}

func flatten(eventId string, t EventType, p EventParam) (map[string]any, error) {
	if t == "" {
		return nil, errors.New("Type is empty")
	}
	if p == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range p.Json() {
		resp[k] = v
	}
	if eventId != "" {
		resp["event_id"] = eventId
	}
	resp["type"] = t
	return resp, nil
}

// error
type ServerEventParamError struct {
	Type    string
	Code    string
	Message string
	Param   any
}

func (p *ServerEventParamError) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		// flattened form
		errObj = m
	}
	if v, ok := errObj["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing error.message")
	}
	p.Type, _ = errObj["type"].(string)
	p.Code, _ = errObj["code"].(string)
	p.Param = errObj["param"]
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    p.Type,
			"code":    p.Code,
			"message": p.Message,
			"param":   p.Param,
		},
	}
}

// session.created
type ServerEventParamSessionCreated struct {
	Session map[string]any
}

func (p *ServerEventParamSessionCreated) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSessionCreated) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// session.updated
type ServerEventParamSessionUpdated struct {
	Session map[string]any
}

func (p *ServerEventParamSessionUpdated) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSessionUpdated) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// response.function_call_arguments.done
type ServerEventParamFunctionCallArgumentsDone struct {
	ResponseId string
	ItemId     string
	CallId     string
	Name       string
	Arguments  string
}

func (p *ServerEventParamFunctionCallArgumentsDone) New(m map[string]any) error {
	if v, ok := m["call_id"].(string); ok {
		p.CallId = v
	} else {
		return errors.New("missing call_id")
	}
	if v, ok := m["arguments"].(string); ok {
		p.Arguments = v
	} else {
		return errors.New("missing arguments")
	}
	p.ResponseId, _ = m["response_id"].(string)
	p.ItemId, _ = m["item_id"].(string)
	p.Name, _ = m["name"].(string)
	return nil
}

func (p *ServerEventParamFunctionCallArgumentsDone) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"call_id":     p.CallId,
		"name":        p.Name,
		"arguments":   p.Arguments,
	}
}

type OutputItem struct {
	Id        string
	Type      string
	Status    string
	CallId    string
	Name      string
	Arguments string
	Raw       map[string]any
}

// response.output_item.done
type ServerEventParamResponseOutputItemDone struct {
	ResponseId string
	Item       OutputItem
}

func (p *ServerEventParamResponseOutputItemDone) New(m map[string]any) error {
	item, ok := m["item"].(map[string]any)
	if !ok {
		return errors.New("missing item")
	}
	p.ResponseId, _ = m["response_id"].(string)
	p.Item = OutputItem{Raw: item}
	p.Item.Id, _ = item["id"].(string)
	p.Item.Type, _ = item["type"].(string)
	p.Item.Status, _ = item["status"].(string)
	p.Item.CallId, _ = item["call_id"].(string)
	p.Item.Name, _ = item["name"].(string)
	p.Item.Arguments, _ = item["arguments"].(string)
	return nil
}

func (p *ServerEventParamResponseOutputItemDone) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item":        p.Item.Raw,
	}
}

// ServerEventParamGeneric keeps the payload of events nobody handles.
type ServerEventParamGeneric struct {
	Fields map[string]any
}

func (p *ServerEventParamGeneric) New(m map[string]any) error {
	p.Fields = m
	return nil
}

func (p *ServerEventParamGeneric) Json() map[string]any {
	return p.Fields
}

// conversation.item.create with a function_call_output item
type ClientEventParamFunctionCallOutput struct {
	CallId string
	Output string
}

func (p *ClientEventParamFunctionCallOutput) New(m map[string]any) error {
	item, ok := m["item"].(map[string]any)
	if !ok {
		return errors.New("missing item")
	}
	p.CallId, _ = item["call_id"].(string)
	p.Output, _ = item["output"].(string)
	if p.CallId == "" {
		return errors.New("missing item.call_id")
	}
	return nil
}

func (p *ClientEventParamFunctionCallOutput) Json() map[string]any {
	return map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": p.CallId,
			"output":  p.Output,
		},
	}
}

// response.create
type ClientEventParamResponseCreate struct{}

func (p *ClientEventParamResponseCreate) New(map[string]any) error {
	return nil
}

func (p *ClientEventParamResponseCreate) Json() map[string]any {
	return map[string]any{}
}
