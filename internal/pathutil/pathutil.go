// Package pathutil builds remote FTP paths from VFS paths, standing in for
// the "out of scope" path-utilities collaborator spec.md §1 names (URL
// encoding, full-path construction). The original builds a libcurl
// ftp://host/path URL and percent-encodes each segment; since this daemon
// talks to github.com/jlaffaye/ftp with plain path arguments rather than
// URLs (see DESIGN.md), there is no URL to build — what survives is
// validating and joining path segments so a path component can never smuggle
// a CR/LF pair into a raw control-channel command (spec.md §4.C's SITE
// verbs embed the path as a literal argument). Built on net/url and
// path purely for that validation; no third-party URL/path library in the
// retrieval pack does less than net/url already provides for this.
package pathutil

import (
	"net/url"
	"path"
	"strings"
)

// Clean normalizes a VFS path to a slash-rooted, ".."-resolved remote path.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean("/" + strings.TrimPrefix(p, "/"))
	return c
}

// Join concatenates a base remote directory and a name into a remote path.
func Join(base, name string) string {
	return Clean(path.Join(base, name))
}

// ParentDir returns the remote directory containing p. The command
// executor (component C) uses this to build the "directory URL" a
// POSTQUOTE-style verb operates relative to.
func ParentDir(p string) string {
	return Clean(path.Dir(Clean(p)))
}

// Base returns the final path segment of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

// ValidateSegment rejects a path segment that could inject a second control
// command into the FTP control channel (a bare CR or LF terminates one
// command and starts the next).
func ValidateSegment(segment string) error {
	if strings.ContainsAny(segment, "\r\n") {
		return &InvalidPathError{Segment: segment}
	}
	return nil
}

// InvalidPathError reports a path segment rejected by ValidateSegment.
type InvalidPathError struct {
	Segment string
}

func (e *InvalidPathError) Error() string {
	return "invalid path segment: " + url.QueryEscape(e.Segment)
}
