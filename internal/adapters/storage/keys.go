package storage

import "strings"

// joinKey prefixes an object key, ignoring surrounding slashes in prefix.
func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
