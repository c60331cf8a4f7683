package classify

import (
	"context"
	"errors"
	"sync"
	"time"

	"dns-warden/pkg/config"
	"dns-warden/pkg/fetch"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/moderate"
	"dns-warden/pkg/storage"
	"dns-warden/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Classifier drains the queue with a single worker: fetch the domain's site
// text, ask the moderator, and record the verdict as an expiring list entry.
// One worker keeps at most one browser session alive at a time.
type Classifier struct {
	cfg       *config.ClassifierConfig
	queue     *Queue
	store     storage.Store
	fetcher   fetch.Fetcher
	moderator moderate.Moderator
	metrics   *telemetry.Metrics
	logger    *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClassifier wires the classification pipeline together.
func NewClassifier(
	cfg *config.ClassifierConfig,
	queue *Queue,
	store storage.Store,
	fetcher fetch.Fetcher,
	moderator moderate.Moderator,
	metrics *telemetry.Metrics,
	logger *logging.Logger,
) *Classifier {
	return &Classifier{
		cfg:       cfg,
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		moderator: moderator,
		metrics:   metrics,
		logger:    logger.With("component", "classifier"),
	}
}

// Start launches the worker goroutine.
func (c *Classifier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("Classifier started", "queue_capacity", cap(c.queue.items))
}

// Stop closes the queue and waits up to the drain grace period for queued
// work to finish, then cancels whatever is still running.
func (c *Classifier) Stop() {
	c.queue.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Classifier drained")
	case <-time.After(c.cfg.DrainGrace):
		c.logger.Warn("Classifier drain grace expired, abandoning queued work",
			"remaining", c.queue.Len(),
		)
		c.cancel()
		<-done
	}
}

func (c *Classifier) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		domain, ok := c.queue.Take(ctx)
		if !ok {
			return
		}
		c.process(ctx, domain)
		c.queue.Complete(domain)
	}
}

// process classifies one domain. Every failure path returns without writing
// an entry, leaving the domain eligible for re-classification on its next
// query.
func (c *Classifier) process(ctx context.Context, domain string) {
	start := time.Now()

	// A manual entry or an earlier classification may have landed while the
	// domain sat in the queue.
	existing, err := c.store.ListActive(ctx, domain)
	if err != nil {
		c.logger.Warn("Skipping classification, list lookup failed",
			"domain", domain,
			"error", err,
		)
		return
	}
	if len(existing) > 0 {
		c.logger.Debug("Skipping classification, domain already listed", "domain", domain)
		return
	}

	text := c.fetcher.Fetch(ctx, domain)
	if text == "" && c.metrics != nil {
		c.metrics.FetchFailures.Add(ctx, 1)
	}

	// Empty text means there was nothing to judge; such domains default to
	// safe without consulting the moderator.
	harmful := false
	if text != "" {
		harmful, err = c.moderator.Moderate(ctx, text)
		if err != nil {
			if c.metrics != nil {
				c.metrics.ModerationFailures.Add(ctx, 1)
			}
			c.logger.Warn("Moderation failed, leaving domain unclassified",
				"domain", domain,
				"error", err,
			)
			return
		}
	}

	listType := storage.ListTypeWhitelist
	if harmful {
		listType = storage.ListTypeBlacklist
	}

	expires := time.Now().UTC().Add(c.cfg.EntryTTL)
	entry := &storage.ListEntry{
		Domain:    domain,
		ListType:  listType,
		Source:    storage.SourceLLM,
		ExpiresAt: &expires,
	}

	if err := c.store.InsertEntry(ctx, entry); err != nil {
		// Lost a race with a manual add or another classification.
		if errors.Is(err, storage.ErrDuplicateDomain) {
			c.logger.Debug("Classification discarded, domain already listed", "domain", domain)
			return
		}
		c.logger.Warn("Failed to store classification",
			"domain", domain,
			"list", listType,
			"error", err,
		)
		return
	}

	if c.metrics != nil {
		c.metrics.ClassificationsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("verdict", string(listType))))
		c.metrics.ClassificationLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	c.logger.Info("Domain classified",
		"domain", domain,
		"list", listType,
		"expires_at", expires,
	)
}
