// Package transfer copies single files between storage handles that may sit
// on different backends. Paths and domains are preserved as given; content is
// copied byte for byte and verified by size on the destination.
package transfer
