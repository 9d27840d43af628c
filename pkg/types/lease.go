package types

import "time"

// TTL is how long a lease stays valid after it is created or refreshed.
// Clients refresh at two thirds of it, see manager.HeartbeatInterval.
const TTL = 30 * time.Second

// a lease is a time-bound claim by one session over one named resource
// several sessions may have records for the same name, the manager
// treats any active record not owned by the requester as a conflict
type Lease struct {
	Name         string    `json:"name"`          //protected resource
	SessionID    string    `json:"session_id"`    //holder identity
	OwnerTitle   string    `json:"owner_title"`   //display name of holder
	OwnerAddress string    `json:"owner_address"` //network origin, diagnostic only
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// a lease is active while its expiry lies strictly in the future
func (l *Lease) IsActive(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// expired leases are garbage and may be swept by anyone
func (l *Lease) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}
