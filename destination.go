package perfcore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quantflow/perfcore/config"
	"github.com/quantflow/perfcore/models"
	"github.com/quantflow/perfcore/retrier"
)

// RequestConfig describes one outbound request against a destination.
type RequestConfig struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte

	// Timeout overrides the destination's per-attempt timeout when positive.
	Timeout time.Duration
}

// Response is the outcome of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// Destination is one named outbound target with a bounded in-flight count.
// Requests beyond the bound queue FIFO on the semaphore and are admitted in
// arrival order as slots free; completion order is not guaranteed.
type Destination struct {
	name string
	cfg  config.DestinationConfig

	client  *http.Client
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
	retr    *retrier.Retrier

	metrics *models.ClientMetrics
	logger  *zap.Logger

	closed   *atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newDestination(name string, cfg config.DestinationConfig, logger *zap.Logger) *Destination {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		MaxConnsPerHost:     int(cfg.MaxConcurrent),
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}

	return &Destination{
		name:    name,
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker: gobreaker.NewCircuitBreaker(cfg.Breaker),
		retr:    retrier.NewLinear(cfg.Retries+1, cfg.RetryDelay),
		metrics: models.NewClientMetrics(),
		logger:  logger.With(zap.String("destination", name)),
		closed:  atomic.NewBool(false),
		stop:    make(chan struct{}),
	}
}

// Do executes the request, queueing when the destination is at its
// concurrency limit. The call is attempted up to retries+1 times with a
// linear backoff of retryDelay * attemptNumber between attempts; transport
// errors and 5xx responses are retryable, 4xx responses are not. The last
// error surfaces only after all attempts are exhausted.
func (d *Destination) Do(ctx context.Context, rc RequestConfig) (*Response, error) {
	if d.closed.Load() {
		return nil, ErrManagerClosed
	}

	reqID := uuid.NewString()[:8]

	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	d.metrics.InFlight.Inc()
	defer d.metrics.InFlight.Dec()
	d.metrics.Total.Inc()

	timeout := d.cfg.RequestTimeout
	if rc.Timeout > 0 {
		timeout = rc.Timeout
	}

	var (
		resp     *Response
		attempts int
	)
	start := time.Now()

	attempt := func() error {
		attempts++
		_, err := d.breaker.Execute(func() (any, error) {
			r, err := d.execute(ctx, rc, timeout)
			if err != nil {
				return nil, err
			}
			resp = r
			return nil, nil
		})
		return err
	}

	err := d.retr.RunNotify(ctx, attempt, func(n int, attemptErr error) {
		if n <= d.cfg.Retries && !retrier.IsPermanent(attemptErr) {
			d.metrics.Retried.Inc()
		}
		d.logger.Debug("request attempt failed",
			zap.String("id", reqID),
			zap.Int("attempt", n),
			zap.Error(attemptErr))
	})

	duration := time.Since(start)
	d.metrics.TotalLatency.Add(int64(duration))

	if err != nil {
		d.metrics.Failed.Inc()
		d.logger.Warn("request failed",
			zap.String("id", reqID),
			zap.String("method", rc.Method),
			zap.String("path", rc.Path),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, fmt.Errorf("destination %s: %w", d.name, err)
	}

	resp.Attempts = attempts
	resp.Duration = duration
	d.metrics.Succeeded.Inc()
	return resp, nil
}

// acquire waits FIFO for a free slot, failing fast when the manager is
// disposed while the request is still queued.
func (d *Destination) acquire(ctx context.Context) error {
	d.metrics.Queued.Inc()
	defer d.metrics.Queued.Dec()

	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-acquireCtx.Done():
		}
	}()

	if err := d.sem.Acquire(acquireCtx, 1); err != nil {
		if d.closed.Load() {
			return ErrManagerClosed
		}
		return err
	}
	if d.closed.Load() {
		d.sem.Release(1)
		return ErrManagerClosed
	}
	return nil
}

// execute performs a single attempt.
func (d *Destination) execute(ctx context.Context, rc RequestConfig, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, rc.Method, d.cfg.BaseURL+rc.Path, bytes.NewReader(rc.Body))
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	for k, vs := range rc.Header {
		req.Header[k] = vs
	}

	clientTrace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				d.metrics.Reused.Inc()
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), clientTrace))

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%s %s: upstream status %d", rc.Method, rc.Path, res.StatusCode)
	case res.StatusCode >= http.StatusBadRequest:
		return nil, retrier.Permanent(fmt.Errorf("%s %s: upstream status %d", rc.Method, rc.Path, res.StatusCode))
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}

// Stats snapshots this destination's counters.
func (d *Destination) Stats() models.DestinationStats {
	total := d.metrics.Total.Load()
	var avg time.Duration
	if total > 0 {
		avg = time.Duration(d.metrics.TotalLatency.Load() / total)
	}
	return models.DestinationStats{
		Name:       d.name,
		Total:      total,
		Succeeded:  d.metrics.Succeeded.Load(),
		Failed:     d.metrics.Failed.Load(),
		Retried:    d.metrics.Retried.Load(),
		ConnReused: d.metrics.Reused.Load(),
		InFlight:   d.metrics.InFlight.Load(),
		Queued:     d.metrics.Queued.Load(),
		AvgLatency: avg,
	}
}

func (d *Destination) dispose() {
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.client.CloseIdleConnections()
	})
}
