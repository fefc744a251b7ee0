package task

// Type represents the type of task
type Type string

const (
	TypeCampaignLoad Type = "CAMPAIGN_LOAD"
)

// State is the lifecycle position of a task.
type State string

const (
	Created     State = "CREATED"
	Initialized State = "INITIALIZED"
	Running     State = "RUNNING"
	Retrying    State = "RETRYING"
	Done        State = "DONE"
)

// maxRetries is the number of retry cycles a single task may go through.
const maxRetries = 1
