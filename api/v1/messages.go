package v1

import "time"

type RequireLockRequest struct {
	LockName     string `json:"lock_name"`
	OwnerTitle   string `json:"owner_title"`
	OwnerAddress string `json:"owner_address"`
	SessionId    string `json:"session_id"`
}

type RequireLockResponse struct {
	HasLock  bool   `json:"has_lock"`
	LockedBy string `json:"locked_by,omitempty"`
}

type GetActiveLocksRequest struct {
	LockName  string `json:"lock_name"`
	SessionId string `json:"session_id"`
}

type Lease struct {
	Name         string    `json:"name"`
	SessionId    string    `json:"session_id"`
	OwnerTitle   string    `json:"owner_title"`
	OwnerAddress string    `json:"owner_address"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type GetActiveLocksResponse struct {
	Locks []*Lease `json:"locks"`
}

type ReleaseLockRequest struct {
	LockName  string `json:"lock_name"`
	SessionId string `json:"session_id"`
}

type ReleaseLockResponse struct {
	Released bool `json:"released"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	NodeId           string `json:"node_id"`
	TtlSeconds       int64  `json:"ttl_seconds"`
	HeartbeatSeconds int64  `json:"heartbeat_seconds"`
}
