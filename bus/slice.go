package bus

import (
	"context"
	"iter"
)

// Item 是序列中的一个结果：消息或传输错误。
type Item struct {
	Msg Message
	Err error
}

// SliceSource replays a fixed list of items, then ends. Used by tests and the
// publish tool's local dry run.
type SliceSource struct {
	Items []Item
}

// Payloads builds a SliceSource with one message per payload.
func Payloads(payloads ...[]byte) *SliceSource {
	items := make([]Item, 0, len(payloads))
	for i, p := range payloads {
		m := NewMessage(p)
		m.Offset = int64(i)
		items = append(items, Item{Msg: m})
	}
	return &SliceSource{Items: items}
}

func (s *SliceSource) Stream(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for _, it := range s.Items {
			if ctx.Err() != nil {
				return
			}
			if !yield(it.Msg, it.Err) {
				return
			}
		}
	}
}

func (s *SliceSource) Close() error { return nil }
