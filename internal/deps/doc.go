// Package deps reports whether external binaries are installed and usable.
package deps
