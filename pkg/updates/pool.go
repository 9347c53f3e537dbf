package updates

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Conn is the subset of *websocket.Conn the pool needs; tests stub it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Pool manages the websocket connections subscribed to one update topic.
// It centralizes broadcasting, error handling, and idle detection so the
// HTTP handler and forwarder stay small.
type Pool struct {
	topic       string
	mu          sync.Mutex
	conns       map[Conn]struct{}
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func NewPool(topic string, idleTimeout time.Duration, onIdle func()) *Pool {
	return &Pool{
		topic:       topic,
		conns:       map[Conn]struct{}{},
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
}

func (p *Pool) Add(conn Conn) {
	if p == nil || conn == nil {
		return
	}
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.stopIdleTimerLocked()
	p.mu.Unlock()
}

func (p *Pool) Remove(conn Conn) {
	if p == nil || conn == nil {
		return
	}
	p.mu.Lock()
	delete(p.conns, conn)
	p.scheduleIdleTimerLocked()
	p.mu.Unlock()
	_ = conn.Close()
}

func (p *Pool) Broadcast(data []byte) {
	if p == nil || len(data) == 0 {
		return
	}
	p.mu.Lock()
	for conn := range p.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "updates").Str("topic", p.topic).Msg("ws broadcast failed, dropping connection")
			delete(p.conns, conn)
			_ = conn.Close()
		}
	}
	p.scheduleIdleTimerLocked()
	p.mu.Unlock()
}

func (p *Pool) SendToOne(conn Conn, data []byte) {
	if p == nil || conn == nil || len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[conn]; !ok {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("component", "updates").Str("topic", p.topic).Msg("ws send failed, dropping connection")
		delete(p.conns, conn)
		_ = conn.Close()
	}
}

func (p *Pool) Count() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *Pool) IsEmpty() bool {
	return p.Count() == 0
}

func (p *Pool) CloseAll() {
	if p == nil {
		return
	}
	p.mu.Lock()
	for conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, conn)
	}
	p.stopIdleTimerLocked()
	p.mu.Unlock()
}

func (p *Pool) stopIdleTimerLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

func (p *Pool) scheduleIdleTimerLocked() {
	if len(p.conns) != 0 || p.idleTimeout <= 0 || p.onIdle == nil {
		p.stopIdleTimerLocked()
		return
	}
	p.stopIdleTimerLocked()
	p.idleTimer = time.AfterFunc(p.idleTimeout, p.triggerIdle)
}

func (p *Pool) triggerIdle() {
	if p == nil {
		return
	}
	var callback func()
	p.mu.Lock()
	if len(p.conns) == 0 {
		callback = p.onIdle
	}
	p.idleTimer = nil
	p.mu.Unlock()
	if callback != nil {
		callback()
	}
}
