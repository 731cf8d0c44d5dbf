package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/goclaw/recall/pkg/api/models"
	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/formatter"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
)

// RelevanceServiceName is the fully qualified gRPC service name.
const RelevanceServiceName = "recall.v1.Relevance"

// RelevanceEngine is the part of the engine the service exposes.
type RelevanceEngine interface {
	RetrieveMemories(ctx context.Context, scope, query string, opts engine.RetrieveOptions) (*engine.RetrieveResult, error)
	GetWorkingMemory(ctx context.Context, scope string, excludeIDs []string) ([]memory.Item, error)
	RecordTurn(ctx context.Context, item memory.Item) (memory.Item, error)
	ConsolidateWorkingMemory(ctx context.Context, scope string, items []memory.Item, opts *consolidation.Options) (*consolidation.Result, error)
	ConsolidateAsync(scope string, items []memory.Item, opts *consolidation.Options) error
}

// RelevanceService serves the engine over gRPC with google.protobuf.Struct
// payloads, so clients need no generated stubs.
type RelevanceService struct {
	engine        RelevanceEngine
	format        formatter.Options
	consolidation consolidation.Options
}

// NewRelevanceService creates the service. format holds the rendering
// defaults and consolidate the default pass options.
func NewRelevanceService(e RelevanceEngine, format formatter.Options, consolidate consolidation.Options) *RelevanceService {
	return &RelevanceService{engine: e, format: format, consolidation: consolidate}
}

// Register adds the service to srv.
func (s *RelevanceService) Register(srv *Server) {
	srv.RegisterService(&RelevanceServiceDesc, s)
}

func (s *RelevanceService) retrieve(ctx context.Context, req *models.RetrieveRequest) (*structpb.Struct, error) {
	res, err := s.engine.RetrieveMemories(ctx, req.Scope, req.Query, req.Options())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

func (s *RelevanceService) formatContext(ctx context.Context, req *models.FormatContextRequest) (*structpb.Struct, error) {
	res, err := s.engine.RetrieveMemories(ctx, req.Scope, req.Query, req.Options())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(models.NewFormatContextResponse(res, req.Apply(s.format)))
}

func (s *RelevanceService) recordTurn(ctx context.Context, req *models.RecordTurnRequest) (*structpb.Struct, error) {
	item, err := s.engine.RecordTurn(ctx, req.Item())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(item)
}

func (s *RelevanceService) workingMemory(ctx context.Context, req *models.WorkingMemoryRequest) (*structpb.Struct, error) {
	items, err := s.engine.GetWorkingMemory(ctx, req.Scope, req.ExcludeIDs)
	if err != nil {
		return nil, toStatus(err)
	}
	if items == nil {
		items = []memory.Item{}
	}
	return encode(models.WorkingMemoryResponse{Scope: req.Scope, Items: items})
}

func (s *RelevanceService) consolidate(ctx context.Context, req *models.ConsolidateRequest) (*structpb.Struct, error) {
	opts := req.Apply(s.consolidation)
	if req.Async {
		if err := s.engine.ConsolidateAsync(req.Scope, nil, &opts); err != nil {
			return nil, toStatus(err)
		}
		return encode(models.ConsolidateAccepted{Scope: req.Scope, Accepted: true})
	}

	res, err := s.engine.ConsolidateWorkingMemory(ctx, req.Scope, nil, &opts)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, engine.ErrNoWriter):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, memory.ErrInvalidScope),
		errors.Is(err, memory.ErrInvalidItemID),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, memory.ErrInvalidArgument),
		errors.Is(err, relevance.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func decode(in *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// unaryHandler adapts a typed method to grpc.MethodDesc. The request is
// decoded before the interceptor chain runs, so interceptors see the typed
// request.
func unaryHandler[Req any](method string, call func(*RelevanceService, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + RelevanceServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		req := new(Req)
		if err := decode(in, req); err != nil {
			return nil, err
		}
		svc := srv.(*RelevanceService)
		if interceptor == nil {
			return call(svc, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r interface{}) (interface{}, error) {
			return call(svc, ctx, r.(*Req))
		})
	}
}

// RelevanceServiceDesc describes the recall.v1.Relevance service.
var RelevanceServiceDesc = grpc.ServiceDesc{
	ServiceName: RelevanceServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Retrieve", Handler: unaryHandler("Retrieve", (*RelevanceService).retrieve)},
		{MethodName: "FormatContext", Handler: unaryHandler("FormatContext", (*RelevanceService).formatContext)},
		{MethodName: "RecordTurn", Handler: unaryHandler("RecordTurn", (*RelevanceService).recordTurn)},
		{MethodName: "GetWorkingMemory", Handler: unaryHandler("GetWorkingMemory", (*RelevanceService).workingMemory)},
		{MethodName: "Consolidate", Handler: unaryHandler("Consolidate", (*RelevanceService).consolidate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recall/v1/relevance.proto",
}
