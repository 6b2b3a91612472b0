// Package manifest contains the manifest domain model.
//
// A Manifest names which files of its directory belong to which named set.
// Its signable content is reduced to a deterministic canonical encoding (see
// Encode) that is independent of insertion order, so signatures produced on
// one machine verify on any other.
package manifest
