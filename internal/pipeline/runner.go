package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tenderbase/procure-backend/internal/pkg/apperr"
	"github.com/tenderbase/procure-backend/internal/pkg/dbctx"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
	"github.com/tenderbase/procure-backend/internal/queue"
	"github.com/tenderbase/procure-backend/internal/tracker"
)

// Runner drives stage-to-stage handoff: it consumes one step's job messages,
// runs the registered handler, removes the completed step from the file's
// pending list, and publishes the next step's job. A step runs only while it
// is the head of its file's pending list, so the configured order holds even
// when jobs arrive early. The message is acked only after the transaction
// carrying the handler's writes has committed.
type Runner struct {
	db       *gorm.DB
	q        queue.Queue
	handlers *HandlerRegistry
	stores   *Stores
	track    *tracker.Tracker
	log      *logger.Logger
}

func NewRunner(db *gorm.DB, q queue.Queue, handlers *HandlerRegistry, stores *Stores, track *tracker.Tracker, baseLog *logger.Logger) *Runner {
	return &Runner{
		db:       db,
		q:        q,
		handlers: handlers,
		stores:   stores,
		track:    track,
		log:      baseLog.With("component", "Runner"),
	}
}

// Start runs consumer loops for the given steps until ctx ends. Each step
// gets `concurrency` loops; many runner processes may serve the same step.
func (r *Runner) Start(ctx context.Context, steps []string, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, step := range steps {
		if _, ok := r.handlers.Get(step); !ok {
			return fmt.Errorf("no handler registered for step %q", step)
		}
		for i := 0; i < concurrency; i++ {
			step := step
			g.Go(func() error {
				r.runLoop(ctx, step)
				return nil
			})
		}
	}
	r.log.Info("Runner started", "steps", steps, "concurrency", concurrency)
	return g.Wait()
}

func (r *Runner) runLoop(ctx context.Context, step string) {
	for {
		d, err := r.q.Receive(ctx, step)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Runner loop stopped", "step", step)
				return
			}
			r.log.Warn("Receive failed", "step", step, "error", err)
			continue
		}
		r.Process(ctx, d)
	}
}

// Process handles one delivery end to end. Exported so tests and
// single-process tools can drive the runner without the consumer loop.
func (r *Runner) Process(ctx context.Context, d *queue.Delivery) {
	log := r.log.With("step", d.Step, "collection_file_id", d.CollectionFileID)

	dbc := dbctx.New(ctx)
	file, err := r.stores.Files.GetByID(dbc, d.CollectionFileID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// File (or its whole collection) was deleted; nothing to do.
			_ = d.Ack(ctx)
			return
		}
		log.Warn("File load failed", "error", err)
		_ = d.Nack(ctx)
		return
	}

	pending, err := r.stores.Steps.ListByFileID(dbc, file.ID)
	if err != nil {
		log.Warn("Pending-step lookup failed", "error", err)
		_ = d.Nack(ctx)
		return
	}
	idx := -1
	for i, s := range pending {
		if s.Name == d.Step {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Redelivered after a previous run completed the step.
		_ = d.Ack(ctx)
		return
	}
	if idx > 0 {
		// A step backfilled by a reconfiguration can be delivered while
		// earlier steps of the file are still pending. Only the head of the
		// list may run; drop this delivery, completing the predecessors
		// republishes the step once it reaches the head.
		_ = d.Ack(ctx)
		return
	}

	collection, err := r.stores.Collections.GetByID(dbc, file.CollectionID)
	if err != nil {
		log.Warn("Collection load failed", "error", err)
		_ = d.Nack(ctx)
		return
	}

	handler, ok := r.handlers.Get(d.Step)
	if !ok {
		log.Error("No handler registered for step")
		_ = d.Nack(ctx)
		return
	}

	if err := r.track.OpenFile(dbc, file.ID); err != nil {
		log.Warn("OpenFile failed", "error", err)
	}

	var terminal bool
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		jc := &StageContext{
			Ctx:        ctx,
			DBC:        txc,
			Collection: collection,
			File:       file,
			Stores:     r.stores,
			Tracker:    r.track,
			Log:        log,
		}
		if err := runSafely(handler, jc); err != nil {
			return err
		}
		if err := r.stores.Steps.Complete(txc, file.ID, d.Step); err != nil {
			return err
		}
		remaining, err := r.stores.Steps.ListByFileID(txc, file.ID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			terminal = true
			now := time.Now().UTC()
			if err := r.stores.Items.SetStoreEndByFileID(txc, file.ID, now); err != nil {
				return err
			}
			return r.stores.Files.SetStoreEnd(txc, file.ID, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDeferred) {
			// The stage asked to run later, e.g. compile waiting for the
			// load to end. Not a failure: nothing lands in the errors
			// payload, and the job goes to the back of the queue instead of
			// being nacked to the front so the retry does not spin.
			_ = d.Ack(ctx)
			if perr := r.q.Publish(ctx, queue.NewMessage(file.ID, d.Step)); perr != nil {
				log.Error("Deferred-step publish failed; run redrive", "error", perr)
			}
			return
		}
		// Recorded, not fatal: the failure lands in the file's errors payload
		// and the unacked message relies on transport redelivery.
		stageErr := &apperr.StageError{Stage: d.Step, Err: err}
		log.Error("Stage failed", "error", err)
		if recErr := r.track.RecordFileError(dbc, file.ID, map[string]interface{}{
			"step":  d.Step,
			"error": stageErr.Error(),
			"at":    time.Now().UTC().Format(time.RFC3339),
		}); recErr != nil {
			log.Warn("Recording stage error failed", "error", recErr)
		}
		_ = d.Nack(ctx)
		return
	}

	// Writes are durable; now the delivery can be settled and the chain
	// advanced. Ack strictly after commit.
	if err := d.Ack(ctx); err != nil {
		log.Warn("Ack failed", "error", err)
	}

	if terminal {
		r.finishFile(ctx, collection.ID, log)
		return
	}
	next, err := r.stores.Steps.ListByFileID(dbc, file.ID)
	if err != nil || len(next) == 0 {
		if err != nil {
			log.Warn("Next-step lookup failed", "error", err)
		}
		return
	}
	if err := r.q.Publish(ctx, queue.NewMessage(file.ID, next[0].Name)); err != nil {
		log.Error("Next-step publish failed; run redrive", "next", next[0].Name, "error", err)
	}
}

func runSafely(h Handler, jc *StageContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Run(jc)
}

// finishFile writes the collection's cached aggregate counts once the
// collection is closed and its last file has completed.
func (r *Runner) finishFile(ctx context.Context, collectionID uuid.UUID, log *logger.Logger) {
	dbc := dbctx.New(ctx)
	collection, err := r.stores.Collections.GetByID(dbc, collectionID)
	if err != nil {
		log.Warn("Collection completion check failed", "error", err)
		return
	}
	if !collection.Closed() {
		return
	}
	open, err := r.stores.Files.CountOpenByCollectionID(dbc, collectionID)
	if err != nil || open > 0 {
		if err != nil {
			log.Warn("Open-file count failed", "error", err)
		}
		return
	}

	releases, err := r.stores.Releases.CountByCollectionID(dbc, collectionID)
	if err != nil {
		log.Warn("Release count failed", "error", err)
		return
	}
	records, err := r.stores.Records.CountByCollectionID(dbc, collectionID)
	if err != nil {
		log.Warn("Record count failed", "error", err)
		return
	}
	compiled, err := r.stores.Compiled.CountByCollectionID(dbc, collectionID)
	if err != nil {
		log.Warn("Compiled release count failed", "error", err)
		return
	}
	if err := r.stores.Collections.SetCachedCounts(dbc, collectionID, releases, records, compiled); err != nil {
		log.Warn("Caching aggregate counts failed", "error", err)
		return
	}
	log.Info("Collection processing complete",
		"collection_id", collectionID,
		"releases", releases,
		"records", records,
		"compiled_releases", compiled,
	)
}
