// Package service contains the application use cases behind the HTTP API.
// MergeService accepts uploads and hands them to the task runner, answers
// status, download and listing queries from the task and output stores, and
// exposes the eviction policy's cleanup and capacity controls.
//
// The service depends on store and task interfaces only; concrete backends
// are chosen in cmd/server.
package service
