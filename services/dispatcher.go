package services

import (
	"context"
	"errors"

	"carwatch/models"
	"carwatch/notify"
	"carwatch/storage"
	"carwatch/utils"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, chatID int64, m notify.Message) error
}

// DispatchStats summarises one fan-out.
type DispatchStats struct {
	Sent        int
	Skipped     int
	Failed      int
	Deactivated int
}

// Dispatcher sends a listing to its matched subscribers with tier redaction.
type Dispatcher struct {
	sender           Sender
	subs             storage.SubscriberStore
	pacer            *utils.Pacer
	renderer         Renderer
	placeholderImage string
	logger           *utils.Logger
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Pacer            *utils.Pacer
	DescriptionLimit int
	PlaceholderImage string
}

func NewDispatcher(sender Sender, subs storage.SubscriberStore, logger *utils.Logger, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		sender:           sender,
		subs:             subs,
		pacer:            opts.Pacer,
		renderer:         Renderer{DescriptionLimit: opts.DescriptionLimit},
		placeholderImage: opts.PlaceholderImage,
		logger:           logger,
	}
}

// Dispatch fans l out to subs. A failure for one subscriber never stops the
// others; only a permanent block mutates the subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, l *models.Listing, subs []*models.Subscriber) DispatchStats {
	var stats DispatchStats
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		if sub.Plan.AtLeast(models.PlanMid) && HasNegativeWord(l, sub.Filters.NegativeWords) {
			d.logger.Debug("[dispatch] %s skipped for %d: negative word", l.Token, sub.ChatID)
			stats.Skipped++
			continue
		}
		msg := d.renderer.Render(Redact(l, sub.Plan, d.placeholderImage), sub.Plan)
		switch err := d.send(ctx, sub.ChatID, msg); {
		case err == nil:
			stats.Sent++
		case errors.Is(err, notify.ErrRecipientBlocked):
			stats.Failed++
			if d.deactivate(ctx, sub.ChatID) {
				stats.Deactivated++
			}
		default:
			stats.Failed++
			d.logger.Error("[dispatch] Send %s to %d failed: %v", l.Token, sub.ChatID, err)
		}
	}
	if len(subs) > 0 {
		d.logger.Info("[dispatch] %s: sent=%d skipped=%d failed=%d", l.Token, stats.Sent, stats.Skipped, stats.Failed)
	}
	return stats
}

// SendViews delivers already-redacted views to one subscriber, used by the
// digest. It stops at the first block.
func (d *Dispatcher) SendViews(ctx context.Context, sub *models.Subscriber, views []View) (int, error) {
	sent := 0
	for _, v := range views {
		err := d.send(ctx, sub.ChatID, d.renderer.Render(v, sub.Plan))
		if errors.Is(err, notify.ErrRecipientBlocked) {
			d.deactivate(ctx, sub.ChatID)
			return sent, err
		}
		if err != nil {
			d.logger.Error("[dispatch] Digest item %s to %d failed: %v", v.Listing.Token, sub.ChatID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, msg notify.Message) error {
	if err := d.pacer.Wait(ctx); err != nil {
		return err
	}
	return d.sender.Send(ctx, chatID, msg)
}

func (d *Dispatcher) deactivate(ctx context.Context, chatID int64) bool {
	d.logger.Warn("[dispatch] Subscriber %d blocked the bot, deactivating", chatID)
	if err := d.subs.DeactivateSubscriber(ctx, chatID); err != nil {
		d.logger.Error("[dispatch] Deactivate %d failed: %v", chatID, err)
		return false
	}
	return true
}
