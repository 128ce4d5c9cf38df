package notify

import (
	"errors"
	"sync"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel buffer full")
)

/* Channel is one admin session's push transport
 * Send must not block; Done is closed when the session ends
 * Close ends the session from the hub side and may be called more than once
 */
type Channel interface {
	Send(f Frame) error
	Done() <-chan struct{}
	Close()
}

// DefaultBuffer is the frame buffer of a StreamChannel
const DefaultBuffer = 64

/* StreamChannel buffers frames for a streaming HTTP response
 * A reader that falls a full buffer behind gets ErrChannelFull on the
 * next Send, which drops the client instead of stalling the broadcast
 */
type StreamChannel struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

// NewStreamChannel creates a channel holding up to buffer frames
func NewStreamChannel(buffer int) *StreamChannel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &StreamChannel{
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
}

func (c *StreamChannel) Send(f Frame) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.frames <- f:
		return nil
	default:
		return ErrChannelFull
	}
}

// Frames is read by the transport writing to the session
func (c *StreamChannel) Frames() <-chan Frame {
	return c.frames
}

func (c *StreamChannel) Done() <-chan struct{} {
	return c.done
}

// Close ends the session; it is safe to call more than once
func (c *StreamChannel) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
