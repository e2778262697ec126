// Package eviction bounds the number of published output files.
//
// A pass lists outputs oldest first and deletes them, together with the task
// records that own them, until the count is at or below the configured
// capacity. Passes are serialized and run under the output store's
// structural lock so that no output is published mid-pass.
package eviction
