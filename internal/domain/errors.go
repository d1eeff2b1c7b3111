package domain

import "errors"

// Sentinel errors for conditions that are not business rejections.
// Business rejections travel as ResultCode values on the command.
var (
	ErrStateCorruption   = errors.New("state_corruption")
	ErrSymbolNotFound    = errors.New("symbol_not_found")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrSnapshotNotFound  = errors.New("snapshot_not_found")
	ErrInvalidShardCount = errors.New("invalid_shard_count")
	ErrShardMismatch     = errors.New("shard_mismatch")
	ErrPipelineHalted    = errors.New("pipeline_halted")
	ErrUnknownCommand    = errors.New("unknown_command")
)

// ValidationError represents an invalid input outside the command stream,
// such as a malformed bootstrap file or replay line.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
