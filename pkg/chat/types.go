// Package chat implements the interactive variant: a multi-turn tool loop
// exposing schema discovery and record writing as callable actions, with a
// human confirmation gating the write unless trusted mode is on.
package chat

import (
	"github.com/mailroute/mailroute/pkg/destination"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Action names callable from inside the loop. Their contracts are identical
// to the pipeline's schema client and record writer.
const (
	ActionListDestinations = "list_destinations"
	ActionDiscoverSchema   = "discover_schema"
	ActionWriteRecords     = "write_records"
)

// FragmentType classifies a streamed fragment.
type FragmentType string

const (
	// FragmentMessage is assistant prose.
	FragmentMessage FragmentType = "message"
	// FragmentAction reports an action being invoked.
	FragmentAction FragmentType = "action"
	// FragmentResult reports an action's output.
	FragmentResult FragmentType = "result"
	// FragmentConfirm asks the user to approve a pending write.
	FragmentConfirm FragmentType = "confirm"
	// FragmentFinal is the authoritative last fragment of a run.
	FragmentFinal FragmentType = "final"
)

// Fragment is one element of the streamed response. The final fragment is
// authoritative; everything before it is progress.
type Fragment struct {
	Type    FragmentType             `json:"type"`
	Content string                   `json:"content,omitempty"`
	Action  string                   `json:"action,omitempty"`
	Data    interface{}              `json:"data,omitempty"`
	Write   *destination.WriteResult `json:"write,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// WriteRequest is the payload of a write_records action.
type WriteRequest struct {
	Integration string                 `json:"integration"`
	TableName   string                 `json:"tableName"`
	Records     []destination.FieldMap `json:"records"`
}
