// Package nfo parses and writes Kodi-style .nfo metadata files: the
// engine's bridge to identifiers and metadata a user or another tool
// already dropped into a library directory, and the canonical metadata
// export other tools (Kodi, Plex) read back.
package nfo

import (
	"time"

	"github.com/jsaddiction/metarr/internal/entities"
)

// Status is the outcome of reconciling every candidate NFO file in a
// directory into one metadata result.
type Status string

const (
	StatusValid     Status = "valid"
	StatusAmbiguous Status = "ambiguous"
	StatusInvalid   Status = "invalid"
)

// CastMember is one parsed <actor> entry.
type CastMember struct {
	Name  string
	Role  string
	Order int
}

// Metadata is the language-agnostic, structured result of parsing one or
// more NFO files — never XML once it leaves this package.
type Metadata struct {
	Title         string
	OriginalTitle string
	SortTitle     string
	Year          int
	Plot          string
	Outline       string
	Tagline       string
	Studio        string
	Genres        []string
	Directors     []string
	Writers       []string
	Studios       []string
	Countries     []string
	Tags          []string
	Actors        []CastMember
	Ratings       []entities.Rating
	Collection    *entities.Collection
	ExternalIDs   entities.ExternalIDs
}

// Result is the outcome of ParseDirectory.
type Result struct {
	Status     Status
	Diagnostic string
	Metadata   Metadata
}

// CandidateFile is one NFO/TXT file found in an entity's directory, with
// its content already read so the parser stays free of its own I/O.
type CandidateFile struct {
	Path    string
	Data    []byte
	ModTime time.Time
}
