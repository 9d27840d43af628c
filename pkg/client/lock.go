package client

import (
	"context"
	"sync"

	pb "github.com/pixperk/pagelock/api/v1"
)

// Lock is a granted page lock kept alive by a heartbeat stream.
type Lock struct {
	client *Client
	name   string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
	once   sync.Once
}

func newLock(c *Client, name string) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lock{
		client: c,
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
}

func (l *Lock) Name() string {
	return l.name
}

// Lost is closed when a refresh is denied because another session took
// the lock after ours expired.
func (l *Lock) Lost() <-chan struct{} {
	return l.lost
}

// Release stops the heartbeat and drops the lease
func (l *Lock) Release(ctx context.Context) error {
	l.stop()
	return l.client.Release(ctx, l.name)
}

func (l *Lock) stop() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		l.client.forget(l)
	})
}

func (l *Lock) heartbeatLoop() {
	defer close(l.done)
	defer l.cancel()

	logger := l.client.logger.With("name", l.name)
	ticker := l.client.clock.NewTicker(l.client.heartbeat)
	defer ticker.Stop()

	var (
		stream       pb.PageLockService_HeartbeatClient
		failureCount int
	)

	for {
		select {
		case <-ticker.C():
			if stream == nil {
				s, err := l.client.client.Heartbeat(l.ctx)
				if err != nil {
					failureCount++
					logger.Warn("heartbeat stream failed", "attempt", failureCount, "error", err)
					continue
				}
				stream = s
			}

			resp, err := l.refresh(stream)
			if err != nil {
				failureCount++
				logger.Warn("heartbeat failed", "attempt", failureCount, "error", err)
				if failureCount >= 2 {
					logger.Error("lease may expire soon, heartbeat failing", "session", l.client.sessionID)
				}
				//the stream is finished after an error, reopen on the next tick
				stream = nil
				continue
			}

			if failureCount > 0 {
				logger.Info("heartbeat recovered", "failures", failureCount)
				failureCount = 0
			}

			if !resp.HasLock {
				logger.Warn("lock lost", "locked_by", resp.LockedBy)
				l.client.forget(l)
				close(l.lost)
				return
			}

		case <-l.ctx.Done():
			if stream != nil {
				_ = stream.CloseSend()
			}
			return
		}
	}
}

func (l *Lock) refresh(stream pb.PageLockService_HeartbeatClient) (*pb.RequireLockResponse, error) {
	if err := stream.Send(l.client.requireRequest(l.name)); err != nil {
		return nil, err
	}
	return stream.Recv()
}
