// Package plan holds the per-record decision engine and the Action type it produces.
package plan

import "fmt"

// Kind is the mutation a reconciliation needs.
type Kind int

const (
	// None means the remote record already holds the desired value.
	None Kind = iota
	// Create means no matching remote record exists.
	Create
	// Update means a matching record exists with a different value.
	Update
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Create:
		return "create"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is the outcome of Decide for one record spec.
type Action struct {
	Kind Kind
	// RecordID identifies the record to update. Empty unless Kind is Update.
	RecordID string
	// Current is the value the matched record holds. Empty for Create.
	Current string
	// Desired is the value the record should hold.
	Desired string
}

// IsNoop reports whether the action needs no remote call.
func (a Action) IsNoop() bool {
	return a.Kind == None
}

func (a Action) String() string {
	switch a.Kind {
	case Create:
		return fmt.Sprintf("create %s", a.Desired)
	case Update:
		return fmt.Sprintf("update #%s %s -> %s", a.RecordID, a.Current, a.Desired)
	default:
		return "none"
	}
}
