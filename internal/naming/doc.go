// Package naming derives filesystem-safe destination names.
//
// It provides three operations:
//   - DeriveFilename: last path segment of a URL, without the query string
//   - Sanitize: replace or drop characters that are invalid in filenames
//   - RandomUniqueName: a random name that does not exist in a directory
//
// # Usage
//
//	name := naming.Sanitize(naming.DeriveFilename(url), naming.PolicyReplace)
//
//	tmp, err := naming.RandomUniqueName(fs, dir, naming.DefaultCharset, naming.DefaultLength, 0)
//
// RandomUniqueName samples until it finds a free name. With maxAttempts <= 0
// the loop is unbounded and the caller must pick a charset and length whose
// collision probability is negligible.
package naming
