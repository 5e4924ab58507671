package linksync

// PlanBatches groups items into batches bounded by budget, in a single greedy
// pass that keeps arrival order. An item is never split: in bytes mode an item
// larger than the limit forms its own batch. A non-positive limit is treated
// as one item per batch.
func PlanBatches(items []QueueItem, budget Budget) []Batch {
	if len(items) == 0 {
		return nil
	}

	var batches []Batch
	var current Batch
	var used int64

	for _, item := range items {
		cost := int64(1)
		if budget.Mode == BudgetBytes {
			cost = item.ContentByteSize
			if cost < 0 {
				cost = 0
			}
		}

		if len(current) > 0 && (budget.Limit <= 0 || used+cost > budget.Limit) {
			batches = append(batches, current)
			current = nil
			used = 0
		}

		current = append(current, item.ItemID)
		used += cost
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// PlanIDs is PlanBatches over bare item IDs in count mode. Used by URL-list
// mode where sizes are unknown.
func PlanIDs(ids []int64, limit int64) []Batch {
	items := make([]QueueItem, len(ids))
	for i, id := range ids {
		items[i] = QueueItem{ItemID: id}
	}
	return PlanBatches(items, Budget{Mode: BudgetCount, Limit: limit})
}

// flatten returns the concatenation of the batches' item IDs.
func flatten(batches []Batch) []int64 {
	var ids []int64
	for _, b := range batches {
		ids = append(ids, b...)
	}
	return ids
}
