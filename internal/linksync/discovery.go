package linksync

import (
	"context"
	"fmt"

	"mvdan.cc/xurls/v2"
)

// DiscoverPending records every candidate item not yet tracked by the queue.
// Existing rows are left untouched. Returns the number of rows inserted.
func (s *SyncService) DiscoverPending(ctx context.Context) (int, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return 0, err
	}

	candidates, err := s.content.ListCandidates(ctx, settings.Source)
	if err != nil {
		return 0, fmt.Errorf("listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	items := make([]DiscoveredItem, len(candidates))
	for i, c := range candidates {
		items[i] = discoveredFromCandidate(c)
	}

	n, err := s.queue.UpsertDiscovered(ctx, items)
	if err != nil {
		return 0, storageErr("recording discovered items", err)
	}
	s.logger.Info("discovery finished", "candidates", len(candidates), "inserted", n)
	return n, nil
}

func discoveredFromCandidate(c Candidate) DiscoveredItem {
	status := c.Status
	if status == "" {
		status = StatusPublished
	}
	return DiscoveredItem{
		ItemID:          c.ID,
		Kind:            KindContent,
		ContentType:     c.Type,
		ContentStatus:   status,
		ContentByteSize: c.ByteSize,
	}
}

// ParseURLList extracts the distinct absolute URLs of a free-form list, in
// order of first appearance.
func ParseURLList(text string) []string {
	found := xurls.Strict().FindAllString(text, -1)
	seen := make(map[string]struct{}, len(found))
	urls := make([]string, 0, len(found))
	for _, u := range found {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// resolveURLList maps the URL list to item IDs and requeues each one so it
// is sent in this session. Unknown URLs are skipped.
func (s *SyncService) resolveURLList(ctx context.Context, list string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]struct{})

	for _, u := range ParseURLList(list) {
		id, err := s.content.ResolveURL(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", u, err)
		}
		if id == 0 {
			s.logger.Warn("url does not match any content", "url", u)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		item, err := s.content.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading item %d: %w", id, err)
		}
		if item == nil {
			continue
		}
		d := DiscoveredItem{
			ItemID:          item.ID,
			Kind:            KindContent,
			ContentType:     item.Type,
			ContentStatus:   StatusPublished,
			ContentByteSize: int64(len(item.Body)),
		}
		if ContentStatus(item.Status) == StatusTrashed {
			d.ContentStatus = StatusTrashed
		}
		if err := s.queue.Requeue(ctx, d); err != nil {
			return nil, storageErr("requeueing url item", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
