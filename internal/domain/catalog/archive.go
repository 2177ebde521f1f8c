package catalog

import (
	"context"
	"path"
	"strings"
)

// Archiver copies a processed file to long-term storage under the layer the
// file ended in and returns the object key.
type Archiver interface {
	Archive(ctx context.Context, file *CatalogFile) (string, error)
}

// ArchiveKey builds the object key for file:
//
//	<prefix>/<layer>/<platform>/<domain>/<yyyy-mm-dd>/<hash12>_<name>
//
// The date is the day the file was first seen. Unknown path parts become
// "unknown" so keys never contain empty segments.
func ArchiveKey(prefix string, file *CatalogFile) string {
	hash := file.FileHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	parts := []string{
		strings.Trim(prefix, "/"),
		orUnknown(string(file.StorageLayer)),
		orUnknown(file.Platform),
		orUnknown(string(file.DataDomain)),
		file.FirstSeenAt.UTC().Format("2006-01-02"),
		hash + "_" + file.FileName,
	}
	if parts[0] == "" {
		parts = parts[1:]
	}
	return path.Join(parts...)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
