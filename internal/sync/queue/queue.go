// Package queue drains the durable sync queue: pending local
// mutations are replayed against the remote service in insertion
// order, with exponential backoff on failure. Entries are removed only
// after a remote acknowledgment.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/remote"
	"github.com/kerrin-hs/gapday/core/internal/telemetry"
)

const defaultBatchSize = 50

// Consumer processes pending sync queue entries against the remote
// service. Preference entries are normally left alone because the
// autosave engine owns preference pushes; IncludePreferences enables
// them for startup recovery after a crash.
type Consumer struct {
	store        *db.Store
	client       remote.Client
	net          *netstate.Monitor
	reg          *telemetry.Registry
	log          *logging.Logger
	batch        int
	includePrefs bool
	now          func() time.Time
}

// Result summarizes one drain pass.
type Result struct {
	Processed int
	Failed    int
	Skipped   int
}

// NewConsumer creates a Consumer.
func NewConsumer(store *db.Store, client remote.Client, net *netstate.Monitor) *Consumer {
	return &Consumer{
		store:  store,
		client: client,
		net:    net,
		reg:    telemetry.Default(),
		log:    logging.Get().With("queue"),
		batch:  defaultBatchSize,
		now:    time.Now,
	}
}

// SetBatch overrides the per-pass entry limit.
func (c *Consumer) SetBatch(n int) {
	if n > 0 {
		c.batch = n
	}
}

// IncludePreferences makes the consumer replay preference entries too.
func (c *Consumer) IncludePreferences(include bool) {
	c.includePrefs = include
}

// SetClock overrides the consumer's clock. Intended for tests.
func (c *Consumer) SetClock(now func() time.Time) {
	c.now = now
}

// DrainOnce replays due queue entries in insertion order. A failed
// entry keeps its place: later entries for the same record are skipped
// so per-record order is preserved, and the entry is retried with
// backoff on a later pass. Returns the pass summary; the only error
// case is a local read failure.
func (c *Consumer) DrainOnce(ctx context.Context) (*Result, error) {
	res := &Result{}
	if !c.net.Online() {
		return res, nil
	}

	items, err := c.store.PendingQueueItems(c.now(), c.batch)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}

	failed := make(map[models.UUID]bool)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, nil
		}
		if failed[item.RecordID] {
			res.Skipped++
			continue
		}
		if item.Table == "preferences" && !c.includePrefs {
			res.Skipped++
			continue
		}

		if err := c.process(ctx, item); err != nil {
			res.Failed++
			failed[item.RecordID] = true
			c.reg.Incr(telemetry.QueueFailures)
			c.log.Warn("queue entry failed, will retry", map[string]interface{}{
				"seq":       item.Seq,
				"table":     item.Table,
				"operation": string(item.Operation),
				"retries":   item.RetryCount,
				"error":     err.Error(),
			})
			if ferr := c.store.FailQueueItem(item.Seq, err, c.now()); ferr != nil {
				c.log.Error("failed to record queue failure", ferr, map[string]interface{}{"seq": item.Seq})
			}
			continue
		}
		res.Processed++
		c.reg.Incr(telemetry.QueueDrained)
	}

	if res.Processed > 0 || res.Failed > 0 {
		c.log.Info("queue drain pass finished", map[string]interface{}{
			"processed": res.Processed,
			"failed":    res.Failed,
			"skipped":   res.Skipped,
		})
	}
	return res, nil
}

func (c *Consumer) process(ctx context.Context, item *models.SyncQueueItem) error {
	switch item.Table {
	case "tasks":
		return c.processTask(ctx, item)
	case "gaps":
		return c.processGap(ctx, item)
	case "preferences":
		return c.processPreferences(ctx, item)
	default:
		// Unknown tables are acked away rather than retried forever.
		c.log.Warn("dropping queue entry for unknown table", map[string]interface{}{
			"seq":   item.Seq,
			"table": item.Table,
		})
		return c.store.CompleteQueueItem(item.Seq)
	}
}

func (c *Consumer) processTask(ctx context.Context, item *models.SyncQueueItem) error {
	if item.Operation == models.QueueOpDelete {
		err := c.client.DeleteTask(ctx, item.RecordID)
		if err != nil && !isGone(err) {
			return err
		}
		return c.store.RemoveTask(item.RecordID, item.SyncVersion)
	}

	var task models.Task
	if err := json.Unmarshal(item.Payload, &task); err != nil {
		return fmt.Errorf("corrupt payload for %s: %w", item.RecordID, err)
	}

	var err error
	switch item.Operation {
	case models.QueueOpCreate:
		err = c.client.CreateTasks(ctx, []*models.Task{&task})
	case models.QueueOpUpdate:
		err = c.client.UpdateTask(ctx, &task)
	default:
		return fmt.Errorf("unknown operation %q", item.Operation)
	}
	if err != nil {
		return err
	}
	return c.store.MarkTaskSynced(item.RecordID, item.SyncVersion)
}

func (c *Consumer) processGap(ctx context.Context, item *models.SyncQueueItem) error {
	if item.Operation == models.QueueOpDelete {
		err := c.client.DeleteGap(ctx, item.RecordID)
		if err != nil && !isGone(err) {
			return err
		}
		return c.store.RemoveGap(item.RecordID, item.SyncVersion)
	}

	var gap models.TimeGap
	if err := json.Unmarshal(item.Payload, &gap); err != nil {
		return fmt.Errorf("corrupt payload for %s: %w", item.RecordID, err)
	}

	var err error
	switch item.Operation {
	case models.QueueOpCreate:
		err = c.client.CreateGaps(ctx, []*models.TimeGap{&gap})
	case models.QueueOpUpdate:
		err = c.client.UpdateGap(ctx, &gap)
	default:
		return fmt.Errorf("unknown operation %q", item.Operation)
	}
	if err != nil {
		return err
	}
	return c.store.MarkGapSynced(item.RecordID, item.SyncVersion)
}

func (c *Consumer) processPreferences(ctx context.Context, item *models.SyncQueueItem) error {
	var doc models.PreferencesDocument
	if err := json.Unmarshal(item.Payload, &doc); err != nil {
		return fmt.Errorf("corrupt preferences payload: %w", err)
	}
	if _, err := c.client.PostPreferences(ctx, &doc); err != nil {
		return err
	}
	return c.store.MarkPreferencesSynced(item.SyncVersion)
}

// isGone reports whether a remote error means the record no longer
// exists. A delete replayed against an already-deleted record is an
// acknowledgment, not a failure.
func isGone(err error) bool {
	var se *remote.StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
	}
	return false
}
