// Package task runs merge jobs in the background.
//
// A TaskRunner persists each submitted task as pending, queues it on a
// bounded TaskQueue and lets a WorkerPool drive it through processing to
// success or failed. Records left unfinished by a previous process are
// reconciled on Start.
package task
