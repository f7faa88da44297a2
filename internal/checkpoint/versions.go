package checkpoint

// KnownVersions lists every checkpoint schema version this build can
// read, oldest first. A version not in this list is read as-is, without
// migration; the checkpoint is quarantined only if its payload then
// fails to decode.
var KnownVersions = []string{"1.0", "2.0", CurrentVersion}

// IsKnownVersion reports whether v can be migrated (or is already
// current).
func IsKnownVersion(v string) bool {
	for _, k := range KnownVersions {
		if k == v {
			return true
		}
	}
	return false
}
