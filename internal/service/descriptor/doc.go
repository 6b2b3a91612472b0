// Package descriptor maintains manifest descriptors: it generates signing keys,
// re-signs and verifies descriptors, prints summaries and edits file sets.
//
// Every change to a signed descriptor is re-signed with the key stored next to it
// before the descriptor is written back.
package descriptor
