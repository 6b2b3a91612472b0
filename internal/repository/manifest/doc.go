// Package manifest stores manifest descriptors on disk.
//
// FileRepository discovers descriptors below a root directory, loads and saves
// them in the format implied by their extension, and manages the private key
// file kept next to a signed descriptor.
package manifest
