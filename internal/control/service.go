package control

import (
	"context"
	"time"

	"github.com/brollyhub/screenrec/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "screenrec.v1.Control"

// controlServer is the handler type registered for ServiceName.
type controlServer interface {
	Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Resume(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pause", Handler: unary("Pause", controlServer.Pause)},
		{MethodName: "Resume", Handler: unary("Resume", controlServer.Resume)},
		{MethodName: "Stop", Handler: unary("Stop", controlServer.Stop)},
		{MethodName: "Status", Handler: unary("Status", controlServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "screenrec/v1/control.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string, call func(controlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	method := fullMethod(name)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(controlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(controlServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// service adapts a Recorder to controlServer.
type service struct {
	recorder Recorder
}

func (s *service) Pause(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(func(r Recorder) error { return r.Pause() })
}

func (s *service) Resume(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(func(r Recorder) error { return r.Resume() })
}

func (s *service) Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(func(r Recorder) error { return r.Stop() })
}

func (s *service) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(nil)
}

func (s *service) apply(cmd func(Recorder) error) (*structpb.Struct, error) {
	if s.recorder == nil {
		return nil, status.Error(codes.Unavailable, "no recorder attached")
	}
	if cmd != nil {
		if err := cmd(s.recorder); err != nil {
			return nil, toStatus(err)
		}
	}
	out, err := snapshotToStruct(s.recorder.Snapshot())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode status: %v", err)
	}
	return out, nil
}

// Status is the decoded reply of every control call.
type Status struct {
	SessionID  string
	State      string
	Configured time.Duration
	Remaining  time.Duration
	Recorded   time.Duration
	Paused     time.Duration
	Countdown  time.Duration
	StartedAt  time.Time
	StopReason string
}

func snapshotToStruct(s session.Snapshot) (*structpb.Struct, error) {
	started := ""
	if !s.StartedAt.IsZero() {
		started = s.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]any{
		"session_id":    s.SessionID,
		"state":         s.State.String(),
		"configured_ms": s.Configured.Milliseconds(),
		"remaining_ms":  s.Remaining.Milliseconds(),
		"recorded_ms":   s.Recorded.Milliseconds(),
		"paused_ms":     s.Paused.Milliseconds(),
		"countdown_ms":  s.Countdown.Milliseconds(),
		"started_at":    started,
		"stop_reason":   string(s.StopReason),
	})
}

func statusFromStruct(st *structpb.Struct) Status {
	f := st.GetFields()
	ms := func(key string) time.Duration {
		return time.Duration(f[key].GetNumberValue()) * time.Millisecond
	}
	out := Status{
		SessionID:  f["session_id"].GetStringValue(),
		State:      f["state"].GetStringValue(),
		Configured: ms("configured_ms"),
		Remaining:  ms("remaining_ms"),
		Recorded:   ms("recorded_ms"),
		Paused:     ms("paused_ms"),
		Countdown:  ms("countdown_ms"),
		StopReason: f["stop_reason"].GetStringValue(),
	}
	if v := f["started_at"].GetStringValue(); v != "" {
		out.StartedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return out
}
