package model

type LoopStatus string

const (
	LoopStatusRunning LoopStatus = "running"
	LoopStatusPaused  LoopStatus = "paused"
	LoopStatusStopped LoopStatus = "stopped"
)

var validLoopStatuses = map[LoopStatus]bool{
	LoopStatusRunning: true,
	LoopStatusPaused:  true,
	LoopStatusStopped: true,
}

func (s LoopStatus) Valid() bool {
	return validLoopStatuses[s]
}

// LoopState is the driver's persisted view of the loop, written atomically
// to .pacer/state/loop.yaml after every iteration. The json tags serve the
// status.get admin command, which returns the state as-is.
type LoopState struct {
	SchemaVersion       int           `yaml:"schema_version" json:"schema_version"`
	FileType            string        `yaml:"file_type" json:"file_type"`
	Iteration           int           `yaml:"iteration" json:"iteration"`
	MaxIterations       int           `yaml:"max_iterations" json:"max_iterations"`
	Status              LoopStatus    `yaml:"status" json:"status"`
	Mode                OperatingMode `yaml:"mode" json:"mode"`
	ConsecutiveFailures int           `yaml:"consecutive_failures" json:"consecutive_failures"`
	TestFailureStreak   int           `yaml:"test_failure_streak" json:"test_failure_streak"`
	StoppedReason       *string       `yaml:"stopped_reason" json:"stopped_reason,omitempty"`
	LastSessionID       *string       `yaml:"last_session_id" json:"last_session_id,omitempty"`
	StartedAt           *string       `yaml:"started_at" json:"started_at,omitempty"`
	UpdatedAt           *string       `yaml:"updated_at" json:"updated_at,omitempty"`
}
