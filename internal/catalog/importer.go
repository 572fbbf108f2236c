package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportOptions controls how a manifest is applied.
type ImportOptions struct {
	// Prune removes threads, and their items, that the manifest does not name.
	Prune bool
}

// ImportResult summarises an import.
type ImportResult struct {
	ThreadsCreated int   `json:"threads_created"`
	ThreadsUpdated int   `json:"threads_updated"`
	ThreadsPruned  int   `json:"threads_pruned"`
	Items          int   `json:"items"`
	ItemsRemoved   int64 `json:"items_removed"`
}

// Import applies a manifest in one transaction. Thread order and item order
// follow the manifest; items dropped from a thread are removed.
func (s *Store) Import(ctx context.Context, m *Manifest, opts ImportOptions) (ImportResult, error) {
	var result ImportResult
	if err := m.Validate(); err != nil {
		return result, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slugs := make([]string, 0, len(m.Threads))

		for pos, mt := range m.Threads {
			slugs = append(slugs, mt.Slug)

			var thread Thread
			err := tx.Where("slug = ?", mt.Slug).First(&thread).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				thread = Thread{Slug: mt.Slug, Title: mt.Title, Position: pos}
				if err := tx.Create(&thread).Error; err != nil {
					return fmt.Errorf("creating thread %s: %w", mt.Slug, err)
				}
				result.ThreadsCreated++
			case err != nil:
				return fmt.Errorf("loading thread %s: %w", mt.Slug, err)
			default:
				err := tx.Model(&thread).Updates(map[string]any{"title": mt.Title, "position": pos}).Error
				if err != nil {
					return fmt.Errorf("updating thread %s: %w", mt.Slug, err)
				}
				result.ThreadsUpdated++
			}

			items := make([]Item, len(mt.Items))
			ids := make([]string, len(mt.Items))
			for i, mi := range mt.Items {
				items[i] = Item{
					ID:         mi.ID,
					ThreadID:   thread.ID,
					Position:   i,
					Location:   mi.Location,
					CachedPath: mi.CachedPath,
				}
				ids[i] = mi.ID
			}

			removed := tx.Where("thread_id = ? AND id NOT IN ?", thread.ID, ids).Delete(&Item{})
			if removed.Error != nil {
				return fmt.Errorf("removing stale items of %s: %w", mt.Slug, removed.Error)
			}
			result.ItemsRemoved += removed.RowsAffected

			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"thread_id", "position", "location", "cached_path", "updated_at"}),
			}).Create(&items).Error
			if err != nil {
				return fmt.Errorf("upserting items of %s: %w", mt.Slug, err)
			}
			result.Items += len(items)
		}

		if !opts.Prune {
			return nil
		}

		var stale []Thread
		if err := tx.Where("slug NOT IN ?", slugs).Find(&stale).Error; err != nil {
			return fmt.Errorf("finding stale threads: %w", err)
		}
		for _, t := range stale {
			removed := tx.Where("thread_id = ?", t.ID).Delete(&Item{})
			if removed.Error != nil {
				return fmt.Errorf("removing items of %s: %w", t.Slug, removed.Error)
			}
			result.ItemsRemoved += removed.RowsAffected
			if err := tx.Delete(&t).Error; err != nil {
				return fmt.Errorf("removing thread %s: %w", t.Slug, err)
			}
			result.ThreadsPruned++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	s.logger.InfoContext(ctx, "catalog imported",
		slog.Int("threads_created", result.ThreadsCreated),
		slog.Int("threads_updated", result.ThreadsUpdated),
		slog.Int("threads_pruned", result.ThreadsPruned),
		slog.Int("items", result.Items),
		slog.Int64("items_removed", result.ItemsRemoved))
	return result, nil
}
