package domain

import "time"

// Extraction is the text produced for one source file.
type Extraction struct {
	Text   string
	Method ExtractionMethod
	Pages  int
}

// LibraryFolder is one existing directory under the library root.
type LibraryFolder struct {
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// FileArea names a tree whose files can be listed.
type FileArea string

const (
	AreaLibrary FileArea = "library"
	AreaFailed  FileArea = "failed"
)

// StoredFile is one regular file under the library or failed root.
type StoredFile struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
