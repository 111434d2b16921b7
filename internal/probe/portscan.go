package probe

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/netpulse/netpulse/internal/models"
)

// ErrScanInProgress is returned when a scan is started while a previous
// one on the same scanner has not finished.
var ErrScanInProgress = errors.New("a scan is already in progress")

// PortScanConfig parameterizes one scan run.
type PortScanConfig struct {
	TargetAddress  string
	PortRange      models.PortRange
	CustomPorts    []int
	MaxConcurrency int
	Timeout        time.Duration
}

// ScanCallbacks receive scan events. All fields are optional. They are
// invoked from scanner goroutines and must not block.
type ScanCallbacks struct {
	// OnOpenPort fires for every port found open, as it is found.
	OnOpenPort func(models.PortScanResult)
	// OnProgress fires after every completed port with (done, total).
	OnProgress func(done, total int)
	// OnComplete fires once with every result, sorted by port.
	OnComplete func([]models.PortScanResult)
}

// PortScanner probes TCP ports concurrently, gating admission with a
// weighted semaphore. One scan runs at a time per scanner.
type PortScanner struct {
	scanning  atomic.Bool
	cancelled atomic.Bool
	cancel    context.CancelFunc
	mu        sync.Mutex
}

func NewPortScanner() *PortScanner { return &PortScanner{} }

// Scanning reports whether a scan is currently running.
func (s *PortScanner) Scanning() bool { return s.scanning.Load() }

// ScanAsync starts a scan in the background. It rejects overlapping
// scans with ErrScanInProgress. Results are delivered through cb.
func (s *PortScanner) ScanAsync(cfg PortScanConfig, cb ScanCallbacks) error {
	ports, err := PortsForRange(cfg.PortRange, cfg.CustomPorts)
	if err != nil {
		return err
	}
	if !s.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	s.cancelled.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, cfg, ports, cb)
	return nil
}

// Cancel requests a best-effort stop of the running scan. Tasks that
// have not started yet are skipped; in-flight connects are unblocked by
// context cancellation. Cancel never blocks.
func (s *PortScanner) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

func (s *PortScanner) run(ctx context.Context, cfg PortScanConfig, ports []int, cb ScanCallbacks) {
	defer s.scanning.Store(false)
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	started := time.Now()
	log.Info().
		Str("target", cfg.TargetAddress).
		Int("ports", len(ports)).
		Int("concurrency", concurrency).
		Msg("port scan started")

	sem := semaphore.NewWeighted(int64(concurrency))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []models.PortScanResult
		done    int
	)
	total := len(ports)

	for _, port := range ports {
		if s.cancelled.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)
			if s.cancelled.Load() {
				return
			}

			r, ok := checkPort(ctx, cfg.TargetAddress, port, timeout)
			if !ok {
				return
			}

			mu.Lock()
			results = append(results, r)
			done++
			progress := done
			mu.Unlock()

			if r.State == models.PortOpen && cb.OnOpenPort != nil {
				cb.OnOpenPort(r)
			}
			if cb.OnProgress != nil {
				cb.OnProgress(progress, total)
			}
		}(port)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	log.Info().
		Str("target", cfg.TargetAddress).
		Int("scanned", len(results)).
		Dur("elapsed", time.Since(started)).
		Bool("cancelled", s.cancelled.Load()).
		Msg("port scan finished")

	if cb.OnComplete != nil {
		cb.OnComplete(results)
	}
}

// checkPort classifies one port: accept means Open, refusal means
// Closed, and silence past the timeout means Filtered. A connect cut
// short by scan cancellation says nothing about the port; those return
// ok=false and stay out of the result set.
func checkPort(ctx context.Context, address string, port int, timeout time.Duration) (models.PortScanResult, bool) {
	r := models.PortScanResult{
		TargetAddress: address,
		Port:          port,
		ScanTimestamp: time.Now(),
		ServiceName:   ServiceName(port),
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	switch {
	case err == nil:
		conn.Close()
		r.State = models.PortOpen
	case ctx.Err() != nil:
		return r, false
	case dialCtx.Err() != nil:
		r.State = models.PortFiltered
	default:
		r.State = models.PortClosed
	}
	return r, true
}
