// Package events 提供进程内的轻量订阅机制，用于“保存之后”的通知。
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Topic 标识一类事件。
type Topic string

const (
	// GoalsSaved 在 goal 列表持久化之后发布。
	GoalsSaved Topic = "goals.saved"
	// SettingsSaved 在设置持久化之后发布。
	SettingsSaved Topic = "settings.saved"
)

// Listener 是事件回调，返回的错误只会被记录。
type Listener func(topic Topic) error

// Subscription 是订阅句柄。
type Subscription interface {
	Unsubscribe()
}

// Bus 按 topic 分发事件。每个监听器相互隔离：
// 返回错误或 panic 都会被记录并吞掉，不影响持久化流程和其他监听器。
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Topic]map[uint64]Listener
	order     map[Topic][]uint64
	logger    zerolog.Logger
}

// NewBus 创建事件总线。
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		listeners: map[Topic]map[uint64]Listener{},
		order:     map[Topic][]uint64{},
		logger:    logger.With().Str("component", "events").Logger(),
	}
}

type subscription struct {
	once  sync.Once
	bus   *Bus
	topic Topic
	id    uint64
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

// Subscribe 注册监听器。
func (b *Bus) Subscribe(topic Topic, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.listeners[topic] == nil {
		b.listeners[topic] = map[uint64]Listener{}
	}
	b.listeners[topic][id] = listener
	b.order[topic] = append(b.order[topic], id)

	return &subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners[topic], id)
	ids := b.order[topic]
	for i, candidate := range ids {
		if candidate == id {
			b.order[topic] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// Publish 按注册顺序同步调用监听器。
func (b *Bus) Publish(topic Topic) {
	if b == nil {
		return
	}

	b.mu.RLock()
	ids := append([]uint64(nil), b.order[topic]...)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		if l, ok := b.listeners[topic][id]; ok {
			listeners = append(listeners, l)
		}
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		if err := b.call(topic, listener); err != nil {
			b.logger.Error().Err(err).Str("topic", string(topic)).Msg("event listener failed")
		}
	}
}

func (b *Bus) call(topic Topic, listener Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener(topic)
}
