// Package storage persists tenants, day sessions, per-user activity,
// correlation entries, streaks and rate-limit stamps in SQLite.
//
// Every method runs against either the pool or, inside InTx, a single
// transaction. Network calls never happen inside InTx.
package storage
