// Package stream defines the iterator returned by streaming tool calls.
package stream

import "io"

// Result yields the chunks of a streaming tool call. Next returns io.EOF
// once the stream is exhausted.
type Result interface {
	Next() (any, error)
	Close() error
}

// SliceResult replays a fixed slice of items.
type SliceResult struct {
	items   []any
	index   int
	closeFn func() error
}

// NewSliceResult constructs a Result over items; closeFn may be nil.
func NewSliceResult(items []any, closeFn func() error) *SliceResult {
	return &SliceResult{items: items, closeFn: closeFn}
}

func (sr *SliceResult) Next() (any, error) {
	if sr.index >= len(sr.items) {
		return nil, io.EOF
	}
	item := sr.items[sr.index]
	sr.index++
	return item, nil
}

func (sr *SliceResult) Close() error {
	if sr.closeFn != nil {
		return sr.closeFn()
	}
	return nil
}

// ChannelResult adapts a <-chan any into a Result. A closed channel ends the
// stream; an error value sent on the channel is surfaced from Next.
type ChannelResult struct {
	ch      <-chan any
	closeFn func() error
}

// NewChannelResult constructs a Result from a channel and a close function.
func NewChannelResult(ch <-chan any, closeFn func() error) *ChannelResult {
	return &ChannelResult{ch: ch, closeFn: closeFn}
}

func (sr *ChannelResult) Next() (any, error) {
	item, ok := <-sr.ch
	if !ok {
		return nil, io.EOF
	}
	if err, isErr := item.(error); isErr {
		return nil, err
	}
	return item, nil
}

func (sr *ChannelResult) Close() error {
	if sr.closeFn != nil {
		return sr.closeFn()
	}
	return nil
}

// Drain collects every remaining item of r into a slice and closes it.
func Drain(r Result) ([]any, error) {
	defer r.Close()
	var items []any
	for {
		item, err := r.Next()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}
