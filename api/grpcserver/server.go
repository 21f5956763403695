package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"ebr/service"
)

// Server adapts SoakService to gRPC.
type Server struct {
	svc *service.SoakService
}

func NewServer(svc *service.SoakService) *Server {
	return &Server{svc: svc}
}

var _ ReclaimerServer = (*Server)(nil)

// -------------------- Queries --------------------

func (s *Server) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return statsStruct(s.svc.Stats()), nil
}

// -------------------- Commands --------------------

func (s *Server) Collect(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return statsStruct(s.svc.Collect()), nil
}

// -------------------- Converters --------------------

func statsStruct(st service.Stats) *structpb.Struct {
	num := func(v uint64) *structpb.Value { return structpb.NewNumberValue(float64(v)) }
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"epoch":                   num(uint64(st.Epoch.Unpinned() >> 1)),
		"epoch_advances":          num(st.EpochAdvances),
		"bags_sealed":             num(st.BagsSealed),
		"bags_collected":          num(st.BagsCollected),
		"deferred_run":            num(st.DeferredRun),
		"participants":            structpb.NewNumberValue(float64(st.Participants)),
		"participants_registered": num(st.ParticipantsRegistered),
		"participants_reclaimed":  num(st.ParticipantsReclaimed),
		"depth":                   structpb.NewNumberValue(float64(st.Depth)),
		"pushes":                  num(st.Pushes),
		"pops":                    num(st.Pops),
		"peeks":                   num(st.Peeks),
		"violations":              num(st.Violations),
	}}
}

// UnaryLogger logs every unary call with its method, latency and status.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("call",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
		)
		return resp, err
	}
}
