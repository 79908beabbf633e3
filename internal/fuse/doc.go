// Package fuse wires FS, the VFS operation surface, to an actual mount via
// MountManager.
package fuse
