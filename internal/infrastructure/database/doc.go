// Package database provides the bridge's SQLite store.
//
// The store is optional and holds bridge bookkeeping only, such as the
// table of mesh nodes heard so far. Readings are never queued here: a
// reading that cannot be published is dropped.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and are additive:
// each version has an .up.sql file named YYYYMMDD_HHMMSS_description.
// The matching .down.sql file is for manual rollback and is never run by
// the bridge.
package database
