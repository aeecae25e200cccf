// # Outspeed voice assistant
//
// Package outspeed holds the client half of a browser voice assistant built on
// the Outspeed Live API: the session configuration sent when a conversation
// starts, a client for the token relay that turns it into an ephemeral key,
// and a Conversation controller that tracks session state and answers the
// model's tool calls through a tools.Registry.
//
// Audio and the realtime transport stay with the Outspeed SDK; Conversation
// only talks to it through the Transport interface.
package outspeed
