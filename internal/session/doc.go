// Package session is the entry point applications use to work with a
// locket ledger.
//
// A Session owns one store, one key, one traffic padding loop and one sync
// engine worker for the lifetime of the process. It is created with New,
// becomes usable after Open and releases everything in Close. Every
// operation called before Open (or after Close) fails with ErrNotReady.
package session
