// Package files provides the crash-safe file writes used for keys, license
// artifacts, the registry document and blacklist exports.
//
// Every write goes to a temporary file in the destination directory, is
// synced, and is then renamed over the destination so readers observe either
// the old or the new content, never a partial file.
//
// Example usage:
//
//	if err := files.WriteJSONAtomic(path, record, 0644); err != nil {
//	    return fmt.Errorf("failed to write license: %w", err)
//	}
package files
