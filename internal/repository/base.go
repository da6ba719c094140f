// Package repository is the data-store boundary of the engagement engine:
// point writes, exact row counts, and grouped batch counts. Every count here is
// a COUNT(*) over engagement rows; no denormalized counter exists.
package repository

import (
	"context"

	"troodie/internal/database"
	"troodie/internal/observability"

	"gorm.io/gorm"
)

// readDB returns the replica for listings. Counts and flags must not use it:
// they are re-read right after a write and have to observe that write.
func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}

// observe opens a span and a latency timer for one repository call.
// The returned func must be called with the call's error.
func observe(ctx context.Context, method, table string) (context.Context, func(error)) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, method, table)
	done := observability.TrackQuery(method, table)
	return ctx, func(err error) {
		done()
		observability.EndSpan(span, err)
	}
}

type idCount struct {
	ID    uint
	Count int64
}

// countMap turns grouped rows into a map holding an entry for every requested id.
func countMap(ids []uint, rows []idCount) map[uint]int64 {
	out := make(map[uint]int64, len(ids))
	for _, id := range ids {
		out[id] = 0
	}
	for _, r := range rows {
		out[r.ID] = r.Count
	}
	return out
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
