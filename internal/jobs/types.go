package jobs

const TaskPushDocument = "sync:push_document"

// QueueSync is the asynq queue push tasks are sent to
const QueueSync = "sync"

// PushDocumentPayload carries no per-request data. asynq derives the unique
// lock from the payload, so every push of one kind shares a single lock.
type PushDocumentPayload struct {
	// Trailing marks the delayed push scheduled while another push was
	// already queued or running.
	Trailing bool `json:"trailing,omitempty"`
}
