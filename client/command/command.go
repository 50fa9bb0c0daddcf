// Package command declares the client's slash-command surface: a
// Registry mapping a command word to a builder that turns its argument
// string into an outbound payload. Interactive terminal reading lives in
// the front end; the registry is the interface the transport's SendLine
// calls once it has already split a typed line into command + argument.
package command

import (
	"fmt"
	"time"

	"github.com/amariwan/cmdchat-go/protocol"
)

// Quit is a sentinel error a Builder returns to tell the transport to
// disconnect and exit. Any payload returned with it is queued first; the
// transport then stops without waiting for that queue to drain.
var Quit = fmt.Errorf("command: quit requested")

// Builder turns a command's argument string into an outbound payload.
// A nil payload with a nil error means "handled locally, nothing to
// send" (e.g. /clear, /help).
type Builder func(name, room, argument string) (payload interface{}, err error)

// Registry maps command words (including the leading slash) to their
// Builder.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry builds the standard command surface: /quit, /help,
// /clear, /nick, /join. /send is handled by the transport directly
// (building file_init/file_chunk payloads needs to read and chunk a
// file, which doesn't fit this single-payload Builder shape) and so is
// not registered here.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("/quit", buildQuit)
	r.Register("/help", buildHelp)
	r.Register("/clear", buildClear)
	r.Register("/nick", buildNick)
	r.Register("/join", buildJoin)
	return r
}

// Register adds or overrides the builder for a command word.
func (r *Registry) Register(word string, b Builder) {
	r.builders[word] = b
}

// Lookup returns the builder registered for word, and whether one
// exists.
func (r *Registry) Lookup(word string) (Builder, bool) {
	b, ok := r.builders[word]
	return b, ok
}

func buildQuit(name, room, argument string) (interface{}, error) {
	return protocol.NewSystemPayload(name+" disconnected.", 0, room, time.Now()), Quit
}

func buildHelp(name, room, argument string) (interface{}, error) {
	return nil, nil
}

func buildClear(name, room, argument string) (interface{}, error) {
	return nil, nil
}

func buildNick(name, room, argument string) (interface{}, error) {
	if argument == "" {
		return nil, fmt.Errorf("command: usage: /nick <new name>")
	}
	return protocol.RenamePayload{Type: protocol.TypeRename, Name: protocol.SanitizeName(argument)}, nil
}

func buildJoin(name, room, argument string) (interface{}, error) {
	if argument == "" {
		return nil, fmt.Errorf("command: usage: /join <room>")
	}
	return protocol.SwitchRoomPayload{Type: protocol.TypeSwitchRoom, Room: protocol.SanitizeRoom(argument)}, nil
}
