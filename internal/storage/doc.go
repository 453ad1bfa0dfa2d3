// Package storage provides the key-value persistence layer for settings.
//
// It currently supports:
//   - Settings keys (JSON values), read-after-write consistent
//   - An append-only journal of executed moves
package storage
