// Package signature is a thin layer over Ed25519 used to sign and verify the
// canonical encoding of manifests.
//
// Public keys travel inside descriptors as PEM-encoded SubjectPublicKeyInfo;
// private keys live next to a descriptor as unencrypted PKCS#8 PEM files.
package signature
