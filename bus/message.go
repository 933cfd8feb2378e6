// Package bus 提供交易指令的入站消息流：Kafka、WebSocket 以及测试用的内存序列。
package bus

import (
	"context"
	"iter"
	"time"
)

// Message 入站消息。核心流水线只使用 Payload，其余字段用于日志与位点提交。
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Payload   []byte
	Time      time.Time

	ack func()
}

// NewMessage wraps a raw payload with no transport metadata.
func NewMessage(payload []byte) Message {
	return Message{Payload: payload, Offset: -1}
}

// WithAck returns a copy whose Ack invokes fn.
func (m Message) WithAck(fn func()) Message {
	m.ack = fn
	return m
}

// Ack 标记消息已处理完毕（成功、丢弃或重试耗尽均算），由来源决定是否提交位点。
func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Source 是惰性、可能无限、不可重启的消息序列。
// 序列中的 error 表示传输层错误，消费方记录后继续读取。
type Source interface {
	Stream(ctx context.Context) iter.Seq2[Message, error]
	Close() error
}
