package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a merge task.
type TaskStatus string

// Possible task status values. Success and failed are terminal.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusFailed     TaskStatus = "failed"
)

// Mode selects how the engine combines the video and audio inputs.
type Mode string

// Supported merge modes.
const (
	ModeMerge        Mode = "merge"
	ModeReplaceAudio Mode = "replace-audio"
	ModeLoopToAudio  Mode = "loop-to-audio"
)

// Initial message for newly created tasks.
const MessageCreated = "Task created, waiting to start processing"

// Validation errors for Task.
var (
	ErrEmptyTaskID          = errors.New("task ID cannot be empty")
	ErrMissingOutputPath    = errors.New("successful task requires an output path")
	ErrUnexpectedOutput     = errors.New("only successful tasks may carry an output path")
	ErrMissingTaskError     = errors.New("failed task requires an error message")
	ErrUnexpectedTaskErr    = errors.New("only failed tasks may carry an error message")
	ErrMissingInputPaths    = errors.New("task requires video and audio input paths")
	ErrTimestampsOutOfOrder = errors.New("task updated_at precedes created_at")
)

// Task is the durable record of one merge job.
//
// The per-status field rules are enforced by the transition methods and by
// Validate: OutputPath and OutputSize only on success, Error only on failed.
type Task struct {
	ID            uuid.UUID  `json:"task_id"`
	Mode          Mode       `json:"mode"`
	Status        TaskStatus `json:"status"`
	Message       string     `json:"message"`
	Error         string     `json:"error,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	OutputSize    int64      `json:"file_size,omitempty"`
	VideoFilename string     `json:"video_filename,omitempty"`
	AudioFilename string     `json:"audio_filename,omitempty"`
	VideoPath     string     `json:"video_path"`
	AudioPath     string     `json:"audio_path"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskInput describes the already-persisted uploads a task will consume.
type TaskInput struct {
	VideoPath     string
	AudioPath     string
	VideoFilename string
	AudioFilename string
}

// NewTask creates a pending task with a fresh random identity.
// Returns a ValidationError if the mode is unknown or the inputs are incomplete.
func NewTask(mode Mode, in TaskInput) (*Task, error) {
	if !mode.Valid() {
		return nil, NewValidationError("mode", fmt.Sprintf("must be one of %s", strings.Join(modeNames(), ", ")), ErrInvalidMode)
	}
	if in.VideoPath == "" || in.AudioPath == "" {
		return nil, NewValidationError("inputs", ErrMissingInputPaths.Error(), ErrMissingInputPaths)
	}

	now := time.Now().UTC()
	t := &Task{
		ID:            uuid.New(),
		Mode:          mode,
		Status:        TaskStatusPending,
		Message:       MessageCreated,
		VideoFilename: in.VideoFilename,
		AudioFilename: in.AudioFilename,
		VideoPath:     in.VideoPath,
		AudioPath:     in.AudioPath,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the record is in a representable state.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if !t.Mode.Valid() {
		return ErrInvalidMode
	}
	if !t.Status.Valid() {
		return ErrInvalidStatus
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return ErrTimestampsOutOfOrder
	}

	switch t.Status {
	case TaskStatusSuccess:
		if t.OutputPath == "" {
			return ErrMissingOutputPath
		}
		if t.Error != "" {
			return ErrUnexpectedTaskErr
		}
	case TaskStatusFailed:
		if t.Error == "" {
			return ErrMissingTaskError
		}
		if t.OutputPath != "" {
			return ErrUnexpectedOutput
		}
	default:
		if t.OutputPath != "" {
			return ErrUnexpectedOutput
		}
		if t.Error != "" {
			return ErrUnexpectedTaskErr
		}
	}
	return nil
}

// Terminal reports whether the task has reached success or failed.
func (t *Task) Terminal() bool {
	return t.Status.Terminal()
}

// Start moves a pending task to processing.
func (t *Task) Start(message string) error {
	if err := t.transition(TaskStatusProcessing); err != nil {
		return err
	}
	t.Message = message
	return nil
}

// Progress records a progress message on a processing task.
func (t *Task) Progress(message string) error {
	if t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: progress on %s task", ErrInvalidTransition, t.Status)
	}
	t.Message = message
	t.touch()
	return nil
}

// Succeed moves a processing task to success. outputPath must be non-empty.
func (t *Task) Succeed(outputPath string, size int64, message string) error {
	if outputPath == "" {
		return ErrMissingOutputPath
	}
	if err := t.transition(TaskStatusSuccess); err != nil {
		return err
	}
	t.OutputPath = outputPath
	t.OutputSize = size
	t.Message = message
	return nil
}

// Fail moves a processing task to failed. errMsg must be non-empty.
func (t *Task) Fail(errMsg, message string) error {
	if errMsg == "" {
		return ErrMissingTaskError
	}
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.Error = errMsg
	t.Message = message
	return nil
}

func (t *Task) transition(to TaskStatus) error {
	if !t.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.touch()
	return nil
}

func (t *Task) touch() {
	now := time.Now().UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

// Clone returns a copy of the record. Task holds no reference fields, so a
// value copy is sufficient.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusSuccess, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// CanTransitionTo reports whether s -> to is a legal forward transition.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return to == TaskStatusProcessing
	case TaskStatusProcessing:
		return to == TaskStatusSuccess || to == TaskStatusFailed
	}
	return false
}

// ParseTaskStatus converts a query value into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", NewValidationError("status", "must be one of pending, processing, success, failed", ErrInvalidStatus)
	}
	return st, nil
}

// AllTaskStatuses lists every status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusSuccess, TaskStatusFailed}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeMerge, ModeReplaceAudio, ModeLoopToAudio:
		return true
	}
	return false
}

// OutputPrefix is the download filename prefix for outputs of this mode.
func (m Mode) OutputPrefix() string {
	switch m {
	case ModeReplaceAudio:
		return "replaced_audio"
	case ModeLoopToAudio:
		return "looped"
	default:
		return "merged"
	}
}

func modeNames() []string {
	return []string{string(ModeMerge), string(ModeReplaceAudio), string(ModeLoopToAudio)}
}
