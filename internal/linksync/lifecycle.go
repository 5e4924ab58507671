package linksync

import (
	"context"
	"fmt"
	"slices"
)

// SaveOptions describe where a save event came from.
type SaveOptions struct {
	// FromBuilderHook is set when the event was raised by a page builder's
	// document-saved hook rather than the generic save hook.
	FromBuilderHook bool
}

// OnContentSaved requeues a saved item and immediately sends the batch that
// contains it. Repeated events for the same item within one session context
// are ignored.
func (s *SyncService) OnContentSaved(ctx context.Context, sc *SessionContext, itemID int64, opts SaveOptions) (Result, error) {
	if !sc.MarkProcessed(itemID) {
		return successResult("Skipped", fmt.Sprintf("item %d already processed", itemID)), nil
	}

	item, err := s.content.GetByID(ctx, itemID)
	if err != nil {
		return Result{}, fmt.Errorf("loading item %d: %w", itemID, err)
	}
	if item == nil {
		return Result{Status: ResultError, Title: "Error!", Message: fmt.Sprintf("item %d not found", itemID)}, nil
	}
	if ContentStatus(item.Status) != StatusPublished {
		return successResult("Skipped", fmt.Sprintf("item %d is not published", itemID)), nil
	}

	if !opts.FromBuilderHook {
		_, ok, err := s.content.GetBuilderProbe(ctx, itemID, probeElementorData)
		if err != nil {
			return Result{}, fmt.Errorf("probing item %d: %w", itemID, err)
		}
		if ok {
			return successResult("Skipped", fmt.Sprintf("item %d syncs through its builder hook", itemID)), nil
		}
	}

	d := DiscoveredItem{
		ItemID:          item.ID,
		Kind:            KindContent,
		ContentType:     item.Type,
		ContentStatus:   StatusPublished,
		ContentByteSize: int64(len(item.Body)),
	}
	if err := s.queue.Requeue(ctx, d); err != nil {
		return Result{}, storageErr("requeueing saved item", err)
	}
	s.logger.Info("item saved", "item", itemID)

	return s.sendItemBatch(ctx, sc, itemID)
}

// OnContentTrashed requeues the item with trashed status and sends the batch
// that contains it. The queue row is deleted once the remote accepts it.
func (s *SyncService) OnContentTrashed(ctx context.Context, sc *SessionContext, itemID int64) (Result, error) {
	if !sc.MarkProcessed(itemID) {
		return successResult("Skipped", fmt.Sprintf("item %d already processed", itemID)), nil
	}

	d := DiscoveredItem{
		ItemID:        itemID,
		Kind:          KindContent,
		ContentStatus: StatusTrashed,
	}
	item, err := s.content.GetByID(ctx, itemID)
	if err != nil {
		return Result{}, fmt.Errorf("loading item %d: %w", itemID, err)
	}
	if item != nil {
		d.ContentType = item.Type
		d.ContentByteSize = int64(len(item.Body))
	} else if existing, err := s.queue.FindItem(ctx, itemID); err != nil {
		return Result{}, storageErr("finding queue item", err)
	} else if existing != nil {
		d.ContentType = existing.ContentType
	}

	if err := s.queue.Requeue(ctx, d); err != nil {
		return Result{}, storageErr("requeueing trashed item", err)
	}
	s.logger.Info("item trashed", "item", itemID)

	return s.sendItemBatch(ctx, sc, itemID)
}

// sendItemBatch plans the pending queue and sends the batch holding itemID.
func (s *SyncService) sendItemBatch(ctx context.Context, sc *SessionContext, itemID int64) (Result, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return Result{}, err
	}
	pending, err := s.queue.ListPending(ctx, PendingFilter{})
	if err != nil {
		return Result{}, storageErr("listing pending items", err)
	}

	for _, batch := range PlanBatches(pending, settings.Budget) {
		if slices.Contains(batch, itemID) {
			return s.sendBatch(ctx, sc, batch)
		}
	}
	return successResult("Success", "Posts are up to date."), nil
}
