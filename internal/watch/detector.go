package watch

// Changed reports whether a freshly computed clean digest differs from
// the previously recorded one. An empty previous digest means the page
// has never been checked and always counts as changed. Pure function,
// no I/O.
func Changed(cleanHash, previousCleanHash string) bool {
	if previousCleanHash == "" {
		return true
	}
	return cleanHash != previousCleanHash
}
