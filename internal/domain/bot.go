package domain

import "time"

// Bot lifecycle states. A bot is created as StatusCreating and settles in
// exactly one of StatusActive or StatusError when provisioning completes.
// StatusStopped is set by operators, never by the provisioning pipeline.
const (
	StatusCreating = "creating"
	StatusActive   = "active"
	StatusError    = "error"
	StatusStopped  = "stopped"
)

// Bot is the descriptor for one provisioned bot instance. All cluster and
// filesystem resource names derive deterministically from (Name, ID).
type Bot struct {
	ID            string
	OwnerID       string
	Name          string
	Token         string
	Features      []string
	Status        string
	Endpoint      string
	DeploymentRef string
	Diagnostic    string
	CreatedAt     time.Time
}

// BotStatusUpdate captures the mutable fields of a bot descriptor.
type BotStatusUpdate struct {
	BotID         string
	Status        string
	Endpoint      string
	DeploymentRef string
	Diagnostic    string
}
