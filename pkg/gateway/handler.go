package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/manager"
	"github.com/pixperk/pagelock/pkg/types"
)

const (
	// SessionCookie carries the browser session id the leases are keyed by.
	SessionCookie = "PAGELOCKSESSID"

	// UserHeader carries the authenticated user name set by the fronting proxy.
	UserHeader = "X-Remote-User"

	AnonymousUser = "anonymous"

	LockBrokenMessage = "Error! Lock broken!"
)

type LockInfo struct {
	HasLock  bool   `json:"hasLock"`
	LockedBy string `json:"lockedBy"`
	Message  string `json:"message,omitempty"`
}

// PageLock is the model the locked-page overlay renders from.
// PingTime is the refresh cadence in seconds.
type PageLock struct {
	HasLock   bool   `json:"hasLock"`
	LockedBy  string `json:"lockedBy,omitempty"`
	LockName  string `json:"lockName,omitempty"`
	ReturnURL string `json:"returnUrl,omitempty"`
	PingTime  int64  `json:"pingTime,omitempty"`
}

type ReleaseInfo struct {
	Released bool `json:"released"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LockHandler struct {
	mgr    *manager.Manager
	logger hclog.Logger
}

func NewLockHandler(mgr *manager.Manager, logger hclog.Logger) *LockHandler {
	return &LockHandler{
		mgr:    mgr,
		logger: logger.Named("lock_handler"),
	}
}

func (h *LockHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.writeLockInfo(w, r)
}

func (h *LockHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.writeLockInfo(w, r)
}

func (h *LockHandler) writeLockInfo(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)

	resp, err := h.mgr.RequireLock(r.Context(), r.FormValue("lockname"), userTitle(r), clientIP(r), session)
	if err != nil {
		h.writeError(w, err)
		return
	}

	info := LockInfo{
		HasLock:  resp.HasLock,
		LockedBy: resp.LockedBy,
	}
	if !resp.HasLock {
		info.Message = LockBrokenMessage
	}
	WriteJSONResponse(w, http.StatusOK, info)
}

func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	session := sessionID(w, r)

	if err := h.mgr.ReleaseLock(r.Context(), r.FormValue("lockname"), session); err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, ReleaseInfo{Released: true})
}

// Page locks name for the page being rendered and returns the overlay
// model. An empty name with ignoreEmpty set means the page has nothing
// to lock.
func (h *LockHandler) Page(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("lockname")
	ignoreEmpty, _ := strconv.ParseBool(r.FormValue("ignoreEmpty"))

	if name == "" && ignoreEmpty {
		WriteJSONResponse(w, http.StatusOK, PageLock{HasLock: true})
		return
	}

	session := sessionID(w, r)
	resp, err := h.mgr.RequireLock(r.Context(), name, userTitle(r), clientIP(r), session)
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, PageLock{
		HasLock:   resp.HasLock,
		LockedBy:  resp.LockedBy,
		LockName:  name,
		ReturnURL: r.FormValue("returnUrl"),
		PingTime:  int64(h.mgr.HeartbeatInterval().Seconds()),
	})
}

func (h *LockHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{
			Code:    "Bad Request",
			Message: err.Error(),
		})
	case errors.Is(err, types.ErrGuardAcquisition):
		h.logger.Error("failed to enter critical section", "error", err)
		WriteJSONResponse(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:    "Service Unavailable",
			Message: "lock table is unavailable",
		})
	default:
		h.logger.Error("lock operation failed", "error", err)
		WriteJSONResponse(w, http.StatusInternalServerError, ErrorResponse{
			Code:    "Internal Server Error",
			Message: "error processing the lock request",
		})
	}
}

// session id from the cookie, a fresh one is issued when absent
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func userTitle(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return AnonymousUser
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func WriteJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
