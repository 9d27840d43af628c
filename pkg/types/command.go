package types

// type of manager command
type CommandType uint

const (
	CommandTypeRequireLock CommandType = iota + 1
	CommandTypeGetActiveLocks
	CommandTypeReleaseLock
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeRequireLock:
		return "require_lock"
	case CommandTypeGetActiveLocks:
		return "get_active_locks"
	case CommandTypeReleaseLock:
		return "release_lock"
	default:
		return "unknown"
	}
}

// interface all manager commands implement
type Command interface {
	Type() CommandType
}

// acquires or refreshes the caller's lease on a resource
// refresh and check calls from the UI are both this command
type RequireLockCmd struct {
	LockName     string
	OwnerTitle   string
	OwnerAddress string
	SessionID    string
}

func (c RequireLockCmd) Type() CommandType { return CommandTypeRequireLock }

// lists active leases on a resource held by other sessions
type GetActiveLocksCmd struct {
	LockName  string
	SessionID string
}

func (c GetActiveLocksCmd) Type() CommandType { return CommandTypeGetActiveLocks }

// drops the caller's lease on a resource
type ReleaseLockCmd struct {
	LockName  string
	SessionID string
}

func (c ReleaseLockCmd) Type() CommandType { return CommandTypeReleaseLock }
