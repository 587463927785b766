package config

import "os"

// ExpandEnv interpolates ${VAR} (and $VAR) references in raw manifest bytes
// before parsing, carried verbatim from the teacher's envexpand.go. Missing
// variables expand to empty string; Validate catches required fields left
// empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
