// Package database handles database connections and schema inspection.
//
// It provides a wrapper around GORM to properly configure MySQL connections
// based on the application's configuration. The same Connect function serves
// both the source database being extracted and the state database holding
// watermarks, target rows, and dead letters.
//
// # Schema Inspection
//
// The inspector retrieves table columns and checks the columns a table
// registration expects against what the source actually has, so a renamed
// or dropped source column is caught before extraction starts.
//
// # Usage
//
//	db, err := database.Connect(cfg.Source)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	missing, err := database.MissingColumns(db, "sales.orders", spec.Columns)
package database
