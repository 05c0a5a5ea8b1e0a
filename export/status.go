package export

// Status is the lifecycle state of an export job.
type Status string

const (
	// StatusPending means the job is created but has not started work
	StatusPending Status = "Pending"

	// StatusRunning means images are being converted or the file is being written
	StatusRunning Status = "Running"

	// StatusCompleted means the PDF was written to its final path
	StatusCompleted Status = "Completed"

	// StatusFailed means the job stopped with an error
	StatusFailed Status = "Failed"

	// StatusCancelled means the job was cancelled or replaced by a newer one
	StatusCancelled Status = "Cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsActive returns true while the job may still produce output
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsFinished returns true for completed, failed and cancelled jobs
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
