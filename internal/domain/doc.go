// Package domain contains the merge task record, its status lifecycle, and the
// media format rules shared by the scheduler, the stores and the HTTP layer.
//
// A Task moves strictly forward: pending -> processing -> success | failed.
// Transition methods (Start, Progress, Succeed, Fail) enforce the per-status
// field rules so that a successful task always names its output file and a
// failed task always carries an error.
package domain
