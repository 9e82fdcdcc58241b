// Package visualiser streams localisation estimates to remote viewers over
// gRPC.
//
// The service is declared by hand on top of google.protobuf.Struct messages,
// so viewers in any language can consume it with the stock well-known types
// and no generated stubs.
package visualiser

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/amsl/laserloc/internal/localiser"
)

// Config holds configuration for the estimate stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients caps concurrent streams; 0 means unlimited.
	MaxClients int

	// ClientBuffer is the per-client queue length.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   8,
		ClientBuffer: 64,
	}
}

// Publisher fans estimates out to connected gRPC streams.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	estimateChan chan localiser.Estimate
	clients      map[string]*clientStream
	clientsMu    sync.RWMutex
	nextClient   atomic.Uint64

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// clientStream is one connected viewer.
type clientStream struct {
	id        string
	localiser string // empty receives every localiser
	ch        chan localiser.Estimate
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published   uint64
	Dropped     uint64
	ClientCount int32
	Running     bool
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:       cfg,
		estimateChan: make(chan localiser.Estimate, 256),
		clients:      make(map[string]*clientStream),
		stopCh:       make(chan struct{}),
	}
}

// Start listens on Config.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the estimate service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterEstimateServiceServer(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		log.Printf("[gRPC] estimate stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[gRPC] server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	log.Printf("[gRPC] estimate stream stopped")
}

// RecordEstimate queues est for every client. A full queue drops the
// estimate; the localiser is never blocked by a viewer.
func (p *Publisher) RecordEstimate(_ context.Context, est localiser.Estimate) error {
	if !p.running.Load() {
		return nil
	}
	select {
	case p.estimateChan <- est:
		p.published.Add(1)
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[gRPC] estimate queue full, %d dropped so far", n)
		}
	}
	return nil
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case est := <-p.estimateChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.localiser != "" && c.localiser != est.Localiser {
					continue
				}
				select {
				case c.ch <- est:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a stream, failing when MaxClients is reached.
func (p *Publisher) addClient(localiserName string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	c := &clientStream{
		id:        fmt.Sprintf("grpc-%d", p.nextClient.Add(1)),
		localiser: localiserName,
		ch:        make(chan localiser.Estimate, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	log.Printf("[gRPC] client connected: %s (total: %d)", c.id, p.clientCount.Load())
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientCount.Add(-1)
		log.Printf("[gRPC] client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}
