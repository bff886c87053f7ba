// Package cursor tracks the last fully ingested block of each live scope.
//
// A scope is a mode plus a netuid set (see domain.CursorScope). The cursor
// only moves forward: Advance rejects any block at or below the stored one.
// Operators can still move it explicitly with Reset.
//
//	manager := cursor.NewManager(cursorRepo)
//
//	c, _ := manager.Load(ctx, "live:all")   // zero cursor when absent
//	next := c.LastProcessedBlock + 1
//
//	// after block `next` is durably stored
//	_ = manager.Advance(ctx, "live:all", next)
package cursor
