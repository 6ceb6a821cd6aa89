package models

import "strings"

// ValidateObjectKey checks that an object key is well formed and belongs to
// the given user. Keys are namespaced "users/{user_id}/..."; path components
// starting with "." (including "..") are rejected so a key can never escape
// its prefix when joined onto a local path.
func ValidateObjectKey(key, userID string) error {
	if key == "" {
		return &InvalidObjectKeyError{Key: key, Reason: "empty key"}
	}
	prefix := "users/" + userID + "/"
	if !strings.HasPrefix(key, prefix) {
		return &InvalidObjectKeyError{Key: key, Reason: "key does not belong to user"}
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" {
			return &InvalidObjectKeyError{Key: key, Reason: "empty path component"}
		}
		if strings.HasPrefix(part, ".") {
			return &InvalidObjectKeyError{Key: key, Reason: "dot-prefixed path component"}
		}
	}
	return nil
}
