// Package filesystem provides the default, directory-backed implementations
// of store.TaskStore and store.OutputStore.
//
// Task records are JSON files written through temp-file-and-rename, so a
// crash leaves either the previous or the new record on disk. Output files
// are produced in hidden ".partial-" files and renamed into place under the
// output store's structural lock.
package filesystem
