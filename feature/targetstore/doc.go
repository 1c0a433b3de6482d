// Package targetstore provides the gorm-backed implementation of the
// engine's TargetStore: materialized rows keyed by table and row key, with
// last-writer-wins guards on every mutation and a tombstone column for
// soft deletes.
package targetstore
