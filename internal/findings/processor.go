// internal/findings/processor.go
package findings

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
)

const persistTimeout = 30 * time.Second

// Processor batches lint findings produced at runtime and persists them for
// monitoring. Submission never blocks the scoring path: findings that do not
// fit in the queue are dropped and counted in the log.
type Processor struct {
	queue  chan schemas.LintFinding
	store  schemas.FindingStore
	logger *zap.Logger
	cfg    config.FindingsConfig

	buffer []schemas.LintFinding
	mu     sync.Mutex
	wg     sync.WaitGroup

	// Signals for synchronization
	flushSignal chan struct{}
	stopSignal  chan struct{}
	stopOnce    sync.Once
}

// NewProcessor initializes a new findings processor. A nil store turns
// persistence into a logged no-op.
func NewProcessor(store schemas.FindingStore, logger *zap.Logger, cfg config.FindingsConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	return &Processor{
		queue:       make(chan schemas.LintFinding, cfg.QueueSize),
		store:       store,
		logger:      logger.Named("findings_processor"),
		cfg:         cfg,
		buffer:      make([]schemas.LintFinding, 0, cfg.BatchSize),
		flushSignal: make(chan struct{}, 1), // Buffered channel to prevent blocking on signal send
		stopSignal:  make(chan struct{}),
	}
}

// Submit enqueues findings without blocking.
func (p *Processor) Submit(findings []schemas.LintFinding) {
	dropped := 0
	for _, f := range findings {
		select {
		case p.queue <- f:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		p.logger.Warn("Findings queue full, dropping findings.", zap.Int("dropped", dropped))
	}
}

// Start launches the processing loop. Call Stop to drain and shut down.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	p.logger.Info("Findings processor started.",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("flush_interval", p.cfg.FlushInterval))

	for {
		select {
		case finding := <-p.queue:
			p.processFinding(finding)

		case <-ticker.C:
			p.flush()

		case <-p.flushSignal:
			p.flush()

		case <-ctx.Done():
			p.logger.Warn("Context cancelled. Stopping processor immediately and attempting final flush.")
			p.drainQueue()
			p.flush()
			return

		case <-p.stopSignal:
			p.logger.Info("Stop signal received. Draining queue and flushing remaining buffer.")
			p.drainQueue()
			p.flush()
			return
		}
	}
}

// drainQueue reads any remaining findings from the queue until it's empty.
func (p *Processor) drainQueue() {
	count := 0
	for {
		select {
		case finding := <-p.queue:
			p.processFinding(finding)
			count++
		default:
			p.logger.Debug("Queue drained.", zap.Int("count", count))
			return
		}
	}
}

// processFinding adds a finding to the buffer and triggers a flush if the batch size is reached.
func (p *Processor) processFinding(finding schemas.LintFinding) {
	if finding.ID == "" {
		finding.ID = uuid.NewString()
	}
	if finding.ObservedAt.IsZero() {
		finding.ObservedAt = time.Now().UTC()
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, finding)
	bufferLen := len(p.buffer)
	p.mu.Unlock()

	if bufferLen >= p.cfg.BatchSize {
		select {
		case p.flushSignal <- struct{}{}:
		default:
			// Signal already pending.
		}
	}
}

// flush persists the current buffer.
func (p *Processor) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toPersist := make([]schemas.LintFinding, len(p.buffer))
	copy(toPersist, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	p.logger.Debug("Flushing findings.", zap.Int("count", len(toPersist)))

	p.wg.Add(1)
	go func(batch []schemas.LintFinding) {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := p.persistBatch(ctx, batch); err != nil {
			p.logger.Error("Failed to persist findings batch.", zap.Error(err), zap.Int("batch_size", len(batch)))
		}
	}(toPersist)
}

func (p *Processor) persistBatch(ctx context.Context, batch []schemas.LintFinding) error {
	if p.store == nil {
		p.logger.Debug("No finding store configured. Findings will not be persisted.", zap.Int("count", len(batch)))
		return nil
	}
	if err := p.store.PersistFindings(ctx, batch); err != nil {
		return err
	}
	p.logger.Debug("Successfully persisted findings batch.", zap.Int("count", len(batch)))
	return nil
}

// Stop gracefully shuts down the processor, ensuring all buffered findings
// are persisted. It is safe to call more than once.
func (p *Processor) Stop() {
	p.logger.Info("Stopping findings processor...")
	p.stopOnce.Do(func() { close(p.stopSignal) })
	p.wg.Wait()
	p.logger.Info("Findings processor stopped.")
}
