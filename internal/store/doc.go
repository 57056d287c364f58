// Package store persists transcription jobs, their artifacts, and their
// event log. Two backends implement the same Store interface: a SQLite
// database for daemon deployments and a file journal guarded by an
// advisory lock for environments without a usable database file.
//
// Every status change goes through the store, which enforces the job
// lifecycle transition table and bumps versions on requeue.
package store
