// Package blobstore stores source uploads and converted outputs.
//
// S3 is the production implementation. Local keeps the same key layout under
// a directory for the drapto backend and for tests. Keys follow
// input/{task}/{file}/{name}, output/{task}/{file}/, and temp/{task}/.
package blobstore
