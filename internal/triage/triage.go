// Package triage runs the poll, classify and dispatch loop over one mailbox.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracyhatemice/mailtriage/internal/allowlist"
	"github.com/tracyhatemice/mailtriage/internal/attachment"
	"github.com/tracyhatemice/mailtriage/internal/classifier"
	"github.com/tracyhatemice/mailtriage/internal/dispatch"
	"github.com/tracyhatemice/mailtriage/internal/fetcher"
	"github.com/tracyhatemice/mailtriage/internal/mailbox"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Classifier produces a verdict for one message.
type Classifier interface {
	Classify(ctx context.Context, msg *message.Message, materials []attachment.Material) (classifier.Verdict, error)
}

// Router executes a verdict.
type Router interface {
	Dispatch(ctx context.Context, msg *message.Message, v classifier.Verdict) (dispatch.Result, error)
}

// Options tunes the loop.
type Options struct {
	Interval        time.Duration
	HeartbeatCycles int
}

// Runner owns the cursor and drives one mailbox.
type Runner struct {
	fetcher      *fetcher.Fetcher
	contacts     allowlist.Source
	materializer *attachment.Materializer
	classifier   Classifier
	router       Router
	opts         Options
	logger       *slog.Logger

	mu     sync.Mutex
	cursor mailbox.Cursor
	stats  Stats
	idle   int
}

// New creates a Runner.
func New(
	f *fetcher.Fetcher,
	contacts allowlist.Source,
	materializer *attachment.Materializer,
	cls Classifier,
	router Router,
	opts Options,
	logger *slog.Logger,
) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	return &Runner{
		fetcher:      f,
		contacts:     contacts,
		materializer: materializer,
		classifier:   cls,
		router:       router,
		opts:         opts,
		logger:       logger,
		stats:        Stats{Actions: make(map[dispatch.Action]int64)},
	}
}

// Run polls until ctx is cancelled. Messages already fetched in a cycle are
// processed to completion even if ctx is cancelled meanwhile.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("starting triage loop", "interval", r.opts.Interval)

	if err := r.materializer.Sweep(); err != nil {
		r.logger.Warn("attachment sweep failed", "error", err)
	}

	// Run immediately on start, then on interval.
	r.cycle(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("triage loop stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	msgs := r.PollOnce(ctx)

	work := context.WithoutCancel(ctx)
	for i := range msgs {
		_ = r.Process(work, &msgs[i])
	}
	r.heartbeat(len(msgs))
}

func (r *Runner) heartbeat(n int) {
	if r.opts.HeartbeatCycles <= 0 {
		return
	}
	r.mu.Lock()
	if n > 0 {
		r.idle = 0
		r.mu.Unlock()
		return
	}
	r.idle++
	beat := r.idle%r.opts.HeartbeatCycles == 0
	cycles, cur := r.stats.Cycles, r.cursor
	r.mu.Unlock()

	if beat {
		r.logger.Info("still running, no new mail", "cycles", cycles, "cursor", string(cur))
	}
}

// PollOnce takes an allow-list snapshot, fetches the delta since the current
// cursor and returns the messages from known clients. A snapshot failure
// skips the cycle without touching the cursor.
func (r *Runner) PollOnce(ctx context.Context) []message.Message {
	r.mu.Lock()
	cur := r.cursor
	r.stats.Cycles++
	r.stats.LastPoll = time.Now()
	r.mu.Unlock()

	snap, err := allowlist.Take(ctx, r.contacts)
	if err != nil {
		r.logger.Error("allow-list unavailable, skipping cycle", "error", err)
		return nil
	}

	msgs, next := r.fetcher.Poll(ctx, cur)
	kept := snap.Filter(msgs)

	r.mu.Lock()
	r.cursor = next
	r.stats.Cursor = string(next)
	r.stats.Fetched += int64(len(msgs))
	r.stats.Filtered += int64(len(msgs) - len(kept))
	r.mu.Unlock()

	if len(msgs) == 0 {
		r.logger.Debug("no new messages", "cursor", string(next))
		return nil
	}
	r.logger.Info(fmt.Sprintf("found %d new message(s)", len(msgs)),
		"count", len(kept), "filtered", len(msgs)-len(kept), "cursor", string(next))
	return kept
}

// Process materializes msg's attachments, classifies it and dispatches the
// verdict. Attachments are released on every path. A failure leaves the
// message unread.
func (r *Runner) Process(ctx context.Context, msg *message.Message) error {
	scope, err := r.materializer.Acquire(ctx, msg)
	if err != nil {
		return r.failed(msg, "", fmt.Errorf("materialize attachments: %w", err))
	}
	defer func() {
		if err := scope.Release(); err != nil {
			r.logger.Warn("attachment cleanup failed", "msg_id", msg.ID, "error", err)
		}
	}()

	verdict, err := r.classifier.Classify(ctx, msg, scope.Materials())
	if err != nil {
		var ue *classifier.UnparseableError
		if errors.As(err, &ue) {
			r.logger.Error("classifier output unparseable, leaving message unread",
				"msg_id", msg.ID, "sender", msg.Sender, "raw", ue.Raw, "error", ue.Err)
			return r.failed(msg, "", err)
		}
		return r.failed(msg, "", fmt.Errorf("classify: %w", err))
	}

	res, err := r.router.Dispatch(ctx, msg, verdict)
	if err != nil {
		return r.failed(msg, dispatch.Choose(verdict), err)
	}

	r.mu.Lock()
	r.stats.Processed++
	r.stats.Actions[res.Action]++
	r.mu.Unlock()
	return nil
}

func (r *Runner) failed(msg *message.Message, action dispatch.Action, err error) error {
	r.mu.Lock()
	r.stats.Failures++
	r.mu.Unlock()

	var ue *classifier.UnparseableError
	if !errors.As(err, &ue) {
		r.logger.Error("message processing failed",
			"msg_id", msg.ID, "sender", msg.Sender, "action", action, "error", err)
	}
	return err
}
