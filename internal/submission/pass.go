package submission

import (
	"context"
	"path/filepath"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

// PassResult summarizes one drain pass.
type PassResult struct {
	Delivered int
	Failed    int
	Remaining int
	Cancelled bool
	Err       error
}

// pass drains a snapshot of the queue in order. A failing entry is recorded
// and skipped; it never blocks the ones behind it. Entries that could not be
// attempted because ctx ended stay queued untouched.
func (c *Coordinator) pass(ctx context.Context) PassResult {
	if !c.inFlight.CompareAndSwap(false, true) {
		return PassResult{Err: ErrPassInProgress}
	}
	defer c.inFlight.Store(false)

	ok, err := c.queue.AcquirePass(ctx, c.holder, c.cfg.LeaseTTL)
	if err != nil {
		c.logger.Error("acquire sync lease failed", "error", err)
		c.metrics.SyncPasses.WithLabelValues("error").Inc()
		return PassResult{Err: err}
	}
	if !ok {
		c.logger.Debug("sync lease held by another process")
		return PassResult{Err: ErrPassInProgress}
	}
	defer func() {
		if err := c.queue.ReleasePass(context.WithoutCancel(ctx), c.holder); err != nil {
			c.logger.Warn("release sync lease", "error", err)
		}
	}()

	start := c.clock.Now()
	renewed := start
	var res PassResult

	entries, err := c.queue.ListAll(ctx)
	if err != nil {
		c.logger.Error("list queue failed", "error", err)
		c.metrics.SyncPasses.WithLabelValues("error").Inc()
		return PassResult{Err: err}
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		if c.clock.Since(renewed) > c.cfg.LeaseTTL/2 {
			ok, err := c.queue.AcquirePass(ctx, c.holder, c.cfg.LeaseTTL)
			if err != nil || !ok {
				c.logger.Warn("sync lease lost, stopping pass", "error", err)
				res.Err = ErrPassInProgress
				break
			}
			renewed = c.clock.Now()
		}

		if err := c.deliver(ctx, e); err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			res.Failed++
			c.metrics.EntriesFailed.Inc()
			c.logger.Warn("delivery failed, entry stays queued",
				"incident_id", e.Report.ID, "attempt", e.AttemptCount+1, "error", err)
			if rerr := c.queue.RecordFailure(ctx, e.Report.ID, err.Error()); rerr != nil {
				c.logger.Error("record failure", "incident_id", e.Report.ID, "error", rerr)
			}
			continue
		}

		res.Delivered++
		c.metrics.EntriesDelivered.Inc()
	}

	res.Remaining = len(entries) - res.Delivered
	c.refreshDepth(context.WithoutCancel(ctx))
	c.metrics.PassDuration.Observe(c.clock.Since(start).Seconds())

	outcome := "clean"
	switch {
	case res.Err != nil:
		outcome = "error"
	case res.Cancelled:
		outcome = "cancelled"
	case res.Failed > 0:
		outcome = "partial"
	}
	c.metrics.SyncPasses.WithLabelValues(outcome).Inc()

	if len(entries) > 0 {
		c.logger.Info("sync pass finished",
			"outcome", outcome, "delivered", res.Delivered, "failed", res.Failed, "remaining", res.Remaining)
	}
	return res
}

// deliver sends one entry: upload the photo if needed, insert the report,
// then remove it locally. A crash between insert and remove re-sends the
// report on the next pass; the store ignores the duplicate id.
func (c *Coordinator) deliver(ctx context.Context, e domain.QueueEntry) error {
	report := e.Report

	if e.NeedsUpload() && c.uploader != nil {
		url, err := c.uploadPhoto(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("photo upload failed, sending report without evidence",
				"incident_id", report.ID, "error", err)
		} else {
			report.PhotoRef = url
			if err := c.queue.SetPhotoRef(ctx, report.ID, url); err != nil {
				c.logger.Warn("persist photo ref", "incident_id", report.ID, "error", err)
			}
		}
	}

	if err := c.store.Insert(ctx, report); err != nil {
		return err
	}
	return c.queue.Remove(ctx, report.ID)
}

func (c *Coordinator) uploadPhoto(ctx context.Context, e domain.QueueEntry) (string, error) {
	data, err := c.readFile(e.PhotoPath)
	if err != nil {
		return "", &domain.UploadError{Err: err}
	}
	key := "incidents/" + e.Report.ID + filepath.Ext(e.PhotoPath)
	return c.uploader.Upload(ctx, key, data)
}
