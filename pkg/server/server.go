package server

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/pagelock/api/v1"
	"github.com/pixperk/pagelock/pkg/manager"
	"github.com/pixperk/pagelock/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	pb.UnimplementedPageLockServiceServer
	mgr    *manager.Manager
	nodeID string
	logger hclog.Logger
}

// wraps the lock manager into a gRPC server
func NewServer(mgr *manager.Manager, nodeID string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		mgr:    mgr,
		nodeID: nodeID,
		logger: logger,
	}
}

// refresh and check both land here
func (s *Server) RequireLock(ctx context.Context, req *pb.RequireLockRequest) (*pb.RequireLockResponse, error) {
	if req.LockName == "" || req.SessionId == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_name and session_id are required")
	}

	result, err := s.mgr.Apply(ctx, types.RequireLockCmd{
		LockName:     req.LockName,
		OwnerTitle:   req.OwnerTitle,
		OwnerAddress: req.OwnerAddress,
		SessionID:    req.SessionId,
	})
	if err != nil {
		return nil, s.toGRPCError(err)
	}

	resp := result.(manager.RequireLockResponse)
	return &pb.RequireLockResponse{
		HasLock:  resp.HasLock,
		LockedBy: resp.LockedBy,
	}, nil
}

func (s *Server) GetActiveLocks(ctx context.Context, req *pb.GetActiveLocksRequest) (*pb.GetActiveLocksResponse, error) {
	if req.LockName == "" || req.SessionId == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_name and session_id are required")
	}

	result, err := s.mgr.Apply(ctx, types.GetActiveLocksCmd{
		LockName:  req.LockName,
		SessionID: req.SessionId,
	})
	if err != nil {
		return nil, s.toGRPCError(err)
	}

	resp := result.(manager.GetActiveLocksResponse)
	locks := make([]*pb.Lease, 0, len(resp.Locks))
	for _, l := range resp.Locks {
		locks = append(locks, toPBLease(l))
	}
	return &pb.GetActiveLocksResponse{Locks: locks}, nil
}

func (s *Server) ReleaseLock(ctx context.Context, req *pb.ReleaseLockRequest) (*pb.ReleaseLockResponse, error) {
	if req.LockName == "" || req.SessionId == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_name and session_id are required")
	}

	result, err := s.mgr.Apply(ctx, types.ReleaseLockCmd{
		LockName:  req.LockName,
		SessionID: req.SessionId,
	})
	if err != nil {
		return nil, s.toGRPCError(err)
	}

	resp := result.(manager.ReleaseLockResponse)
	return &pb.ReleaseLockResponse{
		Released: resp.Released,
	}, nil
}

// one refresh per received request, answered in order
func (s *Server) Heartbeat(stream pb.PageLockService_HeartbeatServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		resp, err := s.RequireLock(stream.Context(), req)
		if err != nil {
			return err
		}

		if !resp.HasLock {
			s.logger.Debug("heartbeat denied", "name", req.LockName, "session", req.SessionId, "locked_by", resp.LockedBy)
		}

		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

func (s *Server) GetStatus(ctx context.Context, req *pb.GetStatusRequest) (*pb.GetStatusResponse, error) {
	return &pb.GetStatusResponse{
		NodeId:           s.nodeID,
		TtlSeconds:       int64(s.mgr.TTL().Seconds()),
		HeartbeatSeconds: int64(s.mgr.HeartbeatInterval().Seconds()),
	}, nil
}

func toPBLease(l types.Lease) *pb.Lease {
	return &pb.Lease{
		Name:         l.Name,
		SessionId:    l.SessionID,
		OwnerTitle:   l.OwnerTitle,
		OwnerAddress: l.OwnerAddress,
		CreatedAt:    l.CreatedAt,
		ExpiresAt:    l.ExpiresAt,
	}
}
