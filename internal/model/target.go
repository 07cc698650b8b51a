package model

type (
	// Target is the logical destination of a message: one peer or one group.
	Target struct {
		IsGroup bool
		Name    string
		Members []string
	}
)

// DirectTarget addresses a single peer.
func DirectTarget(peer string) Target {
	return Target{Name: peer}
}

// GroupTarget addresses a named group. Members may be empty for the
// sender-key policy, which never resolves them.
func GroupTarget(name string, members []string) Target {
	return Target{IsGroup: true, Name: name, Members: members}
}
