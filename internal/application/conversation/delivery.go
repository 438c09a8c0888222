package conversation

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Delivery sends a batch of study files and accounts for every one of them.
type Delivery struct {
	channel   channel.MessageChannel
	content   ContentStore
	store     PersistenceStore
	presenter *Presenter
	sink      errorSink
	observer  Observer
	log       *logger.Logger
}

// SendFiles delivers files to u in page order.
//
// The request counters move exactly once per call: Total always, then either
// Successful or Failed. Each file gets one transaction record. A file's reuse
// id is written only the first time the channel returns one.
func (d *Delivery) SendFiles(ctx context.Context, u *user.User, files []*catalog.Material) error {
	if len(files) == 0 {
		err := shared.Resolution("delivery", "SendFiles", "no files to send")
		d.sink.user(ctx, u.ID, "PersistenceStore", err)
		return recorded(err)
	}

	u.RecordRequest()

	sorted := slices.Clone(files)
	slices.SortStableFunc(sorted, func(a, b *catalog.Material) int {
		return cmp.Compare(a.Page, b.Page)
	})
	lastShortName := sorted[len(sorted)-1].ShortName

	outcomes := d.send(ctx, u, sorted)
	failed := d.account(ctx, u, sorted, outcomes)

	d.log.Info("files delivered",
		logger.UserID(u.ID),
		logger.Int("files", len(sorted)),
		logger.Bool("failed", failed),
	)

	if failed {
		u.RecordOutcome(false)
		err := shared.Transport("delivery", "SendFiles", "failed to send files", nil)
		d.sink.user(ctx, u.ID, "MessageChannel", err)
		if perr := d.presenter.sendRetryPrompt(ctx, u, lastShortName); perr != nil {
			d.sink.internal(ctx, "MessageChannel", perr)
			return recorded(err)
		}
		return recorded(answered(err))
	}

	u.RecordOutcome(true)
	return d.presenter.sendAvailableFiles(ctx, u)
}

// send resolves the attachment parameters concurrently and sends the resolved
// ones in a single ordered call. The result is aligned with files.
func (d *Delivery) send(ctx context.Context, u *user.User, files []*catalog.Material) []channel.Outcome {
	outcomes := make([]channel.Outcome, len(files))
	params := make([]channel.Attachment, len(files))

	// Lookups must not cancel each other.
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			a := channel.Attachment{Type: f.Type}
			if f.HasReuseID() {
				a.ReuseID = f.ReuseID
			} else {
				url, err := d.content.GetPublicURL(ctx, f.Key)
				if err != nil {
					outcomes[i].Err = shared.Internal("delivery", "GetPublicURL", "failed to resolve "+f.Key, err)
					return nil
				}
				a.URL = url
			}
			params[i] = a
			return nil
		})
	}
	_ = g.Wait()

	var (
		batch []channel.Attachment
		index []int
	)
	for i := range files {
		if outcomes[i].Err == nil {
			batch = append(batch, params[i])
			index = append(index, i)
		}
	}
	if len(batch) == 0 {
		return outcomes
	}

	sent, err := d.channel.SendSequentialAttachments(ctx, u.ID, batch)
	for j, i := range index {
		switch {
		case err != nil:
			outcomes[i].Err = shared.Transport("delivery", "SendSequentialAttachments", "channel send failed", err)
		case j >= len(sent):
			outcomes[i].Err = shared.Transport("delivery", "SendSequentialAttachments", "missing outcome", nil)
		case sent[j].Err != nil:
			outcomes[i].Err = shared.Transport("delivery", "SendAttachment", "attachment rejected", sent[j].Err)
		default:
			outcomes[i].ReuseID = sent[j].ReuseID
		}
	}
	return outcomes
}

// account records every outcome concurrently and reports whether any failed.
func (d *Delivery) account(ctx context.Context, u *user.User, files []*catalog.Material, outcomes []channel.Outcome) bool {
	var g errgroup.Group
	for i, f := range files {
		o := outcomes[i]
		g.Go(func() error {
			d.observer.FileDelivered(o.OK())
			if !o.OK() {
				d.sink.user(ctx, u.ID, "MessageChannel", o.Err)
				d.sink.transaction(ctx, u.ID, f.Key, false)
				return nil
			}

			d.sink.transaction(ctx, u.ID, f.Key, true)
			f.IncrementSendCount()
			f.SetReuseID(o.ReuseID)
			if err := d.store.UpdateFile(ctx, f); err != nil {
				d.sink.user(ctx, u.ID, "PersistenceStore", shared.Internal("delivery", "UpdateFile", "failed to update "+f.Key, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return slices.ContainsFunc(outcomes, func(o channel.Outcome) bool { return !o.OK() })
}
