// Package preflight provides readiness checks for the filesystem paths,
// blob storage, and transcoder settings vidconv depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure before the
//     workflow begins claiming files.
//   - The CLI "vidconv status" command renders the same results alongside
//     the external binary checks from CheckSystemDeps.
//
// Checks that only apply to one transcoder backend are skipped for the other.
package preflight
