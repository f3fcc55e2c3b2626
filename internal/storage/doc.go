// Package storage persists the coordinator's state.
//
// The layout is a key-value store with two top-level keys:
//   - "entryList": the ordered entry list, newest first
//   - "settings":  the settings record
//
// Values are JSON in every driver so the same document can be inspected by hand.
package storage
