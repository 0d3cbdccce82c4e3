package bookmark

// ChangeType classifies a single bookmark mutation.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeMove   ChangeType = "move"
	ChangeRemove ChangeType = "remove"
)

// Valid reports whether t is a known change type.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeAdd, ChangeModify, ChangeMove, ChangeRemove:
		return true
	default:
		return false
	}
}
