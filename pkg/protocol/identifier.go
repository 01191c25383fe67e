package protocol

import (
	"fmt"
	"time"
)

// identityKeys are the Metadata keys that carry protocol-specific identity.
// Listed in decreasing strength: an inode survives any rename, an ETag
// usually does, an mtime only distinguishes files of equal size.
var identityKeys = []string{"inode", "etag", "mtime"}

// FileIdentifier is the stable identity of one file or directory on a
// storage root, used to correlate a delete with a later create.
//
// ContentHash is set only for files below the handler's hash threshold;
// above it identity falls back to size plus protocol metadata. Two
// identifiers denote the same underlying file iff they share storage root
// and protocol and either their content hashes match, or their protocol
// metadata matches, or their sizes match while the paths differ only by a
// directory prefix under an in-flight directory move. The first two rules
// live here; the prefix rule needs pending-move context and lives in the
// tracker.
type FileIdentifier struct {
	StorageRootID string
	Protocol      Protocol
	Path          string
	Size          int64
	IsDirectory   bool
	ContentHash   string
	Metadata      map[string]string
}

// SameFile reports whether other denotes the same underlying file by the
// content-hash or protocol-metadata rule.
func (id *FileIdentifier) SameFile(other *FileIdentifier) bool {
	if other == nil {
		return false
	}
	if id.StorageRootID != other.StorageRootID || id.Protocol != other.Protocol {
		return false
	}
	if id.IsDirectory != other.IsDirectory {
		return false
	}
	if id.ContentHash != "" && other.ContentHash != "" {
		return id.ContentHash == other.ContentHash
	}
	return id.metadataMatch(other)
}

// metadataMatch compares protocol-specific identity metadata. Sizes must
// agree and at least one identity key must be present and equal on both
// sides; any identity key present on both sides with different values is a
// mismatch.
func (id *FileIdentifier) metadataMatch(other *FileIdentifier) bool {
	if id.Size != other.Size {
		return false
	}
	if len(id.Metadata) == 0 || len(other.Metadata) == 0 {
		// Directories frequently carry no metadata at all. Equal size
		// (zero) alone is not identity for files, but for directories the
		// tracker matches on name and children, so reject here.
		return false
	}
	matched := false
	for _, key := range identityKeys {
		a, aok := id.Metadata[key]
		b, bok := other.Metadata[key]
		if aok && bok {
			if a != b {
				return false
			}
			matched = true
		}
	}
	return matched
}

// FallbackKey returns a deterministic composite key for an identifier whose
// handler could not compute full identity (backend briefly unreachable,
// permission error on hash). Tracking proceeds on this weaker key instead of
// dropping the event.
func (id *FileIdentifier) FallbackKey() string {
	return fmt.Sprintf("fallback:%s:%s:%d:%t", id.Protocol, id.ContentHash, id.Size, id.IsDirectory)
}

// InfoMetadata builds the identity metadata for a FileInfo according to the
// protocol's strongest available hint.
func InfoMetadata(p Protocol, info *FileInfo) map[string]string {
	md := map[string]string{}
	switch p {
	case NFS:
		if inode, ok := info.Metadata["inode"]; ok {
			md["inode"] = inode
		}
	case WebDAV:
		if etag, ok := info.Metadata["etag"]; ok {
			md["etag"] = etag
		}
	}
	if len(md) == 0 && !info.ModTime.IsZero() {
		md["mtime"] = info.ModTime.UTC().Format(time.RFC3339Nano)
	}
	return md
}
