// Package detector watches a document's rendered text for OTP-shaped tokens and
// reports each distinct valid code exactly once per document lifetime.
//
// Document changes are debounced: a burst of notifications inside the window
// collapses into a single scan after the burst settles.
package detector
