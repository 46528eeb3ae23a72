package file

import (
	"context"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/validate"
)

// Validate implements baodb.ReadonlyMap.
//
// It works on a copy of the index taken when it is called
// (cheap, since buffers are shared),
// so entries added afterward are not validated.
// External entries are validated first, in path order,
// then internal entries, in hash order.
func (db *Database) Validate(ctx context.Context, ch chan<- baodb.ValidateEvent) error {
	db.mu.RLock()
	entries := db.copyEntries()
	db.mu.RUnlock()

	items := make([]validate.Item, 0, len(entries))
	for h, e := range entries {
		items = append(items, validate.Item{
			Hash:     h,
			Path:     e.Path,
			Size:     e.Size,
			Outboard: e.Outboard,
			Open:     e.open,
		})
	}

	return validate.Run(ctx, items, ch,
		validate.Workers(db.workers),
		validate.Logger(db.log),
		validate.Pool(db.pool),
	)
}
