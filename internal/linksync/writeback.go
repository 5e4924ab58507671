package linksync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Probe keys written back for builder-managed items.
const (
	probeElementorData = "_elementor_data"
	probeBricksContent = "_bricks_page_content_2"
	probeOxygenLegacy  = "ct_builder_json"
	probeOxygenJSON    = "_ct_builder_json"
	probeThrivePost    = "tve_updated_post"
	probeThriveTpl     = "tve_updated_post_tpl"
)

// WriteBackSweep pulls remotely edited items and applies them to the content
// repository. It is refused while a sync session is in progress. Applied
// items are acknowledged so they are not returned again.
func (s *SyncService) WriteBackSweep(ctx context.Context) (Result, error) {
	plan, err := s.state.LoadSessionPlan(ctx)
	if err != nil {
		return Result{}, storageErr("loading session plan", err)
	}
	if plan != nil {
		return Result{Status: ResultError, Title: "Sync ongoing", Message: "Post update is blocked while a sync is in progress."}, nil
	}

	updates, err := withAuthRetry(ctx, s, func() ([]RemoteUpdate, error) {
		return s.remote.FetchUpdates(ctx)
	})
	if err != nil {
		s.logger.Error("fetching remote updates failed", "error", err)
		return errorResult(err), nil
	}
	if len(updates) == 0 {
		return successResult("Success", "No data to update."), nil
	}

	var applied []int64
	for _, u := range updates {
		if err := s.applyUpdate(ctx, u); err != nil {
			s.logger.Error("applying remote update failed", "item", u.ItemID, "error", err)
			continue
		}
		applied = append(applied, u.ItemID)
	}

	if len(applied) > 0 {
		if _, err := withAuthRetry(ctx, s, func() (struct{}, error) {
			return struct{}{}, s.remote.AcknowledgeUpdates(ctx, applied)
		}); err != nil {
			s.logger.Warn("acknowledging updates failed", "items", applied, "error", err)
		}
	}

	s.logger.Info("write-back finished", "received", len(updates), "applied", len(applied))
	if len(applied) < len(updates) {
		return warningResult("Posts partially updated.",
			fmt.Sprintf("%d of %d item(s) updated", len(applied), len(updates))), nil
	}
	return successResult("Posts updated.", fmt.Sprintf("%d item(s) updated", len(applied))), nil
}

func (s *SyncService) applyUpdate(ctx context.Context, u RemoteUpdate) error {
	item, err := s.content.GetByID(ctx, u.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %d not found", u.ItemID)
	}

	if meta, ok := metaText(u.Meta); ok {
		switch u.Builder {
		case BuilderElementor:
			err = s.content.SetBuilderProbe(ctx, u.ItemID, probeElementorData, meta)
		case BuilderBricks:
			err = s.content.SetBuilderProbe(ctx, u.ItemID, probeBricksContent, meta)
		case BuilderOxygen:
			key := probeOxygenLegacy
			if _, found, perr := s.content.GetBuilderProbe(ctx, u.ItemID, probeOxygenJSON); perr != nil {
				return perr
			} else if found {
				key = probeOxygenJSON
			}
			err = s.content.SetBuilderProbe(ctx, u.ItemID, key, meta)
		case BuilderThrive:
			key := probeThrivePost
			if item.Type == "tcb_content_template" {
				key = probeThriveTpl
			}
			err = s.content.SetBuilderProbe(ctx, u.ItemID, key, u.Content)
		}
		if err != nil {
			return fmt.Errorf("writing builder data: %w", err)
		}
	}

	if u.Content == "" {
		return nil
	}
	modified := u.UpdatedAt
	if modified.IsZero() {
		modified = s.clock.Now()
	}
	if err := s.content.UpdateBody(ctx, u.ItemID, u.Content, modified.UTC()); err != nil {
		return fmt.Errorf("updating body: %w", err)
	}
	return nil
}

// metaText renders builder metadata for storage. A JSON string is stored
// unquoted, anything else as compact JSON. Null and empty metadata are absent.
func metaText(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, strings.TrimSpace(s) != ""
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed), true
	}
	return buf.String(), true
}
