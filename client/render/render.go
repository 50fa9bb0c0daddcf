// Package render declares the client-side rendering strategy the
// transport's receive loop calls after decoding a payload. Terminal
// rendering itself lives in the front end; only the json renderer,
// whose canonical byte-stable output a scripted client can rely on, is
// implemented for real.
package render

import (
	"encoding/json"
	"strings"
)

// Renderer turns a decoded payload into a displayable string. v is
// whatever concrete payload struct the transport's receive loop decoded
// (protocol.ChatPayload, protocol.SystemPayload, etc).
type Renderer interface {
	Render(v interface{}) (string, error)
}

// NewRenderer returns the Renderer named by name, normalized the same
// way the server normalizes the handshake's renderer field; unknown
// names default to "rich".
func NewRenderer(name string) Renderer {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return JSONRenderer{}
	case "minimal":
		return MinimalRenderer{}
	default:
		return RichRenderer{}
	}
}

// JSONRenderer serializes the payload as compact, deterministic JSON.
// This is the one renderer with a real implementation: its output is
// machine-readable and part of the contract a scripted client can rely
// on, unlike the terminal-oriented renderers.
type JSONRenderer struct{}

func (JSONRenderer) Render(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RichRenderer is a declared stub: full terminal rendering (colors,
// boxes, timestamps) lives outside this module.
type RichRenderer struct{}

func (RichRenderer) Render(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MinimalRenderer is likewise a declared stub; see RichRenderer.
type MinimalRenderer struct{}

func (MinimalRenderer) Render(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
