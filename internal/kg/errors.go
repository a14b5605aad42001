package kg

import "fmt"

// SchemaConflictError reports an irreconcilable property type clash while
// merging two records under the same identifier. It is fatal to the incoming
// record; the graph itself continues.
type SchemaConflictError struct {
	ID       string
	Property string
	Existing string
	Incoming string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict on %q: property %q has type %s, incoming value has type %s",
		e.ID, e.Property, e.Existing, e.Incoming)
}

// ReferentialIntegrityError reports a dangling edge discovered at finalize
// under the abort policy.
type ReferentialIntegrityError struct {
	EdgeID  string
	Missing string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("edge %q references missing node %q", e.EdgeID, e.Missing)
}
