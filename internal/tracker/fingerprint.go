package tracker

import "time"

// Fingerprint is the last known state of a tracked file
type Fingerprint struct {
	Path    string    `json:"path"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// sameMetadata reports whether size and modification time are unchanged
func (f Fingerprint) sameMetadata(size int64, modTime time.Time) bool {
	return f.Size == size && f.ModTime.Equal(modTime)
}
