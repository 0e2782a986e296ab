// Package model defines the core data structures used throughout wardrobe-ingest.
package model

import (
	"strings"
)

// RawFile is an opaque image file handed to the pipeline by a caller.
// Exactly one of Data or Path carries the content: Data holds bytes already
// in memory, Path points at an on-disk file read at encode time. The
// pipeline only reads a RawFile, never mutates it.
type RawFile struct {
	// Name is the original file name as the user selected it.
	Name string

	// MediaType is the declared MIME type ("image/jpeg"). When empty the
	// encoder sniffs it from the content.
	MediaType string

	// Data is the inline file content, if already read.
	Data []byte

	// Path is the on-disk source, read lazily when Data is empty.
	Path string
}

// EncodedImage is a self-contained data URI payload
// ("data:image/png;base64,...") derived from exactly one RawFile.
// Once produced it is immutable and renders without any external reference.
type EncodedImage string

const dataURIPrefix = "data:"

// MediaType extracts the MIME type from the payload header.
// Returns empty string if the payload is not a well-formed data URI.
func (e EncodedImage) MediaType() string {
	s := string(e)
	if !strings.HasPrefix(s, dataURIPrefix) {
		return ""
	}
	rest := s[len(dataURIPrefix):]
	if i := strings.IndexAny(rest, ";,"); i >= 0 {
		return rest[:i]
	}
	return ""
}

// RejectReason classifies why a selected file did not make it into the batch.
type RejectReason string

const (
	// RejectCapacity means the file exceeded the batch's remaining capacity.
	RejectCapacity RejectReason = "capacity_exceeded"

	// RejectDecode means the file could not be read or encoded.
	RejectDecode RejectReason = "decode_failed"
)

// Rejection reports one file that was dropped from an accept call.
type Rejection struct {
	File   string
	Reason RejectReason
	Err    error
}

// Result is the outcome of one accept call: the payloads that entered the
// batch, in selection order, and the files that did not, with reasons.
type Result struct {
	Accepted []EncodedImage
	Rejected []Rejection
}
