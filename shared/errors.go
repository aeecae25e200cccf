package shared

import "errors"

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoTransport           = errors.New("no transport provided")
	ErrNoRegistry            = errors.New("no tool registry provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionNotRunning     = errors.New("session not running")
	ErrEphemeralKey          = errors.New("failed to get ephemeral key")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrDuplicateTool         = errors.New("duplicate tool name")
	ErrEmptyToolName         = errors.New("tool name is empty")
	ErrNoToolHandler         = errors.New("tool has no handler")
	ErrEnvNotSet             = errors.New("environment variable not set")
)
