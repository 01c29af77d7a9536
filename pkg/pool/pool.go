package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthCheck[T any] func(T) bool
type Destructor[T any] func(T) error

// Pool round-robins over a set of shared connections. Connections are handed out by reference
// and may be held by multiple callers at once, so the connection object must be thread-safe.
type Pool[T comparable] struct {
	mu           sync.Mutex
	idx          int
	alive        []T
	dead         []T
	lastChecked  map[T]time.Time
	checkMaxAge  time.Duration
	healthCheck  HealthCheck[T]
	destructor   Destructor[T]
	requeueEvery time.Duration
	closeCh      chan struct{}
}

type Config[T any] struct {
	// HealthCheckMaxAge is how long a passing health check stays valid before Get re-checks the
	// connection.
	HealthCheckMaxAge time.Duration
	// RequeueInterval, if positive, starts a background loop that re-checks dead connections and
	// returns recovered ones to rotation.
	RequeueInterval time.Duration
	HealthCheck     HealthCheck[T]
	Destructor      Destructor[T]
}

var ErrPoolEmpty = errors.New("no live connections in pool")

func New[T comparable](conns []T, config Config[T]) *Pool[T] {
	if config.HealthCheck == nil {
		config.HealthCheck = func(T) bool { return true }
	}

	p := &Pool[T]{
		alive:       make([]T, 0, len(conns)),
		dead:        make([]T, 0),
		lastChecked: make(map[T]time.Time),
		checkMaxAge: config.HealthCheckMaxAge,
		healthCheck: config.HealthCheck,
		destructor:  config.Destructor,
	}

	if len(conns) > 0 {
		p.Add(conns...)
	}

	if config.RequeueInterval > 0 {
		p.requeueEvery = config.RequeueInterval
		p.closeCh = make(chan struct{})
		go p.requeueLoop()
	}

	return p
}

func (p *Pool[T]) Add(conns ...T) {
	for _, conn := range conns {
		healthy := p.healthCheck(conn)

		p.mu.Lock()
		p.lastChecked[conn] = time.Now()
		if healthy {
			p.alive = append(p.alive, conn)
		} else {
			p.dead = append(p.dead, conn)
		}
		p.mu.Unlock()
	}
}

func (p *Pool[T]) Remove(conn T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.alive = remove(p.alive, conn)
	p.dead = remove(p.dead, conn)
	delete(p.lastChecked, conn)
}

// Get returns the next connection in rotation, re-running the health check if the last passing
// check is older than HealthCheckMaxAge. Failing connections are parked and the next candidate is
// tried until the pool is exhausted.
func (p *Pool[T]) Get() (*T, error) {
	for {
		p.mu.Lock()
		if len(p.alive) == 0 {
			p.mu.Unlock()
			return nil, ErrPoolEmpty
		}

		p.idx++
		if p.idx >= len(p.alive) {
			p.idx = 0
		}

		conn := p.alive[p.idx]
		lastChecked, ok := p.lastChecked[conn]
		p.mu.Unlock()

		if ok && time.Since(lastChecked) <= p.checkMaxAge {
			return &conn, nil
		}

		if p.healthCheck(conn) {
			p.mu.Lock()
			p.lastChecked[conn] = time.Now()
			p.mu.Unlock()
			return &conn, nil
		}

		p.park(conn)
	}
}

// Size returns the number of live connections.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.alive)
}

func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeCh != nil {
		close(p.closeCh)
	}

	if p.destructor == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, _ := errgroup.WithContext(ctx)
	for _, conn := range append(append([]T{}, p.alive...), p.dead...) {
		conn := conn
		group.Go(func() error {
			return p.destructor(conn)
		})
	}

	return group.Wait()
}

func (p *Pool[T]) park(conn T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.alive = remove(p.alive, conn)
	p.dead = append(p.dead, conn)
}

func (p *Pool[T]) requeueLoop() {
	ticker := time.NewTicker(p.requeueEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			parked := append([]T{}, p.dead...)
			p.mu.Unlock()

			for _, conn := range parked {
				if !p.healthCheck(conn) {
					continue
				}

				p.mu.Lock()
				p.dead = remove(p.dead, conn)
				p.alive = append(p.alive, conn)
				p.lastChecked[conn] = time.Now()
				p.mu.Unlock()
			}
		case <-p.closeCh:
			return
		}
	}
}

func remove[T comparable](s []T, v T) []T {
	for i, el := range s {
		if el == v {
			return append(s[:i], s[i+1:]...)
		}
	}

	return s
}
