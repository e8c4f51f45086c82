// Package eventstream publishes a sequence-numbered stream of events to an
// HTTP client via Server-Sent Events.
//
// Grounded on fastview.client[T]'s generic single-consumer publisher
// (ticker-paced, context-cancellable), re-pointed from a websocket
// connection to the simpler text/event-stream protocol, since this
// service's events are one-way. Frames carry no SSE id field and the
// Last-Event-ID header is not read: every Sync starts from the oldest event
// its source still retains.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// pollResolution is how often the client checks its Source for new events.
const pollResolution = 50 * time.Millisecond

// Client publishes a polled sequence of T values to an HTTP response as
// Server-Sent Events.
type Client[T any] struct {
	poll    func(afterSeq int) []T
	seqOf   func(T) int
	w       http.ResponseWriter
	flusher http.Flusher
	rootCtx context.Context
}

// ErrNotFlushable is returned by NewClient when w does not support
// streaming flushes.
var ErrNotFlushable = fmt.Errorf("eventstream: response writer does not support flushing")

// NewClient prepares w for Server-Sent Events and returns a Client that
// polls poll for events newer than the last one it delivered, identified by
// seqOf.
func NewClient[T any](w http.ResponseWriter, r *http.Request, poll func(afterSeq int) []T, seqOf func(T) int) (*Client[T], error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotFlushable
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Client[T]{
		poll:    poll,
		seqOf:   seqOf,
		w:       w,
		flusher: flusher,
		rootCtx: r.Context(),
	}, nil
}

// Sync polls for and writes events until the request context is cancelled.
// It returns nil on clean disconnect, or the first write error encountered.
func (c *Client[T]) Sync() error {
	ticker := channerics.NewTicker(c.rootCtx.Done(), pollResolution)
	lastSeq := -1

	for {
		select {
		case <-c.rootCtx.Done():
			return nil
		case _, ok := <-ticker:
			if !ok {
				return nil
			}
			events := c.poll(lastSeq)
			for _, ev := range events {
				if err := c.write(ev); err != nil {
					return err
				}
				lastSeq = c.seqOf(ev)
			}
		}
	}
}

func (c *Client[T]) write(ev T) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventstream: marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("eventstream: writing event: %w", err)
	}
	c.flusher.Flush()
	return nil
}
