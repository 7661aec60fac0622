// Package mute sends mute/unmute commands to an embedded player frame.
//
// Delivery is fire-and-forget: there is no acknowledgment, retry or
// timeout. A frame without a content window (not loaded yet, or no player
// connected) swallows the command and SetMuted reports false so callers
// never record a mute state the frame did not receive.
package mute

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"cinereel/internal/metrics"
)

const (
	FuncMute   = "mute"
	FuncUnmute = "unMute"
)

// Command is the structured message understood by the embed provider's JS API.
type Command struct {
	Event string        `json:"event"`
	Func  string        `json:"func"`
	Args  []interface{} `json:"args"`
}

func NewCommand(muted bool) Command {
	fn := FuncUnmute
	if muted {
		fn = FuncMute
	}
	return Command{Event: "command", Func: fn, Args: []interface{}{}}
}

// Window is the message target of a loaded frame.
type Window interface {
	PostMessage(message []byte, targetOrigin string)
}

// FrameHandle is the embedded player frame. ContentWindow returns nil until
// the frame has loaded.
type FrameHandle interface {
	ContentWindow() Window
}

type Channel struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewChannel(log zerolog.Logger, m *metrics.Metrics) *Channel {
	return &Channel{log: log.With().Str("component", "mute").Logger(), metrics: m}
}

// SetMuted posts the command and reports whether a content window took it.
func (c *Channel) SetMuted(frame FrameHandle, muted bool) bool {
	cmd := NewCommand(muted)
	if frame == nil {
		c.metrics.MuteCommand(cmd.Func, false)
		return false
	}
	win := frame.ContentWindow()
	if win == nil {
		c.metrics.MuteCommand(cmd.Func, false)
		return false
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		c.log.Error().Err(err).Msg("encode mute command")
		return false
	}
	win.PostMessage(payload, "*")
	c.metrics.MuteCommand(cmd.Func, true)
	c.log.Debug().Str("func", cmd.Func).Msg("mute command posted")
	return true
}
