package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/latticehq/sequencer/pkg/observability/tracing"
	"github.com/latticehq/sequencer/pkg/transport"
)

// Server hosts the three inbound gRPC services the sequencer answers on a
// single bind address: MemberStatus (peer control RPCs), ServiceControl
// (upward ACKs from co-hosted services) and Ingress (client requests). It is
// grounded on the teacher's pkg/transport/grpc/server.go management service
// — the literal ServiceDesc + dec/interceptor handler shape is kept, the
// management/replication methods are replaced by the sequencer's own.
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	tlsCfg *tls.Config

	egress struct {
		mu   sync.Mutex
		subs map[int64]*egressSub
	}
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}
type ackResp struct {
	OK bool `json:"ok"`
}

// --- MemberStatus service ---

type memberStatusServer interface {
	RequestVote(ctx context.Context, in *transport.RequestVote) (*empty, error)
	Vote(ctx context.Context, in *transport.Vote) (*empty, error)
	AppendedPosition(ctx context.Context, in *transport.AppendedPosition) (*empty, error)
	CommitPosition(ctx context.Context, in *transport.CommitPosition) (*empty, error)
}

type memberStatusImpl struct{ adapter transport.MemberStatusAdapter; localID int32 }

func (m *memberStatusImpl) RequestVote(ctx context.Context, in *transport.RequestVote) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.member_status.request_vote")
	defer end()
	if in != nil {
		m.adapter.OnRequestVote(in.CandidateID, *in)
	}
	return &empty{}, nil
}

func (m *memberStatusImpl) Vote(ctx context.Context, in *transport.Vote) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.member_status.vote")
	defer end()
	if in != nil {
		m.adapter.OnVote(in.FollowerID, *in)
	}
	return &empty{}, nil
}

func (m *memberStatusImpl) AppendedPosition(ctx context.Context, in *transport.AppendedPosition) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.member_status.appended_position")
	defer end()
	if in != nil {
		m.adapter.OnAppendedPosition(in.FollowerID, *in)
	}
	return &empty{}, nil
}

func (m *memberStatusImpl) CommitPosition(ctx context.Context, in *transport.CommitPosition) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.member_status.commit_position")
	defer end()
	if in != nil {
		m.adapter.OnCommitPosition(in.LeaderID, *in)
	}
	return &empty{}, nil
}

var _MemberStatus_serviceDesc = grpc.ServiceDesc{
	ServiceName: "sequencer.v1.MemberStatus",
	HandlerType: (*memberStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: _MemberStatus_RequestVote_Handler},
		{MethodName: "Vote", Handler: _MemberStatus_Vote_Handler},
		{MethodName: "AppendedPosition", Handler: _MemberStatus_AppendedPosition_Handler},
		{MethodName: "CommitPosition", Handler: _MemberStatus_CommitPosition_Handler},
	},
}

func _MemberStatus_RequestVote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.RequestVote)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(memberStatusServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.MemberStatus/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(memberStatusServer).RequestVote(ctx, req.(*transport.RequestVote))
	}
	return interceptor(ctx, in, info, handler)
}

func _MemberStatus_Vote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.Vote)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(memberStatusServer).Vote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.MemberStatus/Vote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(memberStatusServer).Vote(ctx, req.(*transport.Vote))
	}
	return interceptor(ctx, in, info, handler)
}

func _MemberStatus_AppendedPosition_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.AppendedPosition)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(memberStatusServer).AppendedPosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.MemberStatus/AppendedPosition"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(memberStatusServer).AppendedPosition(ctx, req.(*transport.AppendedPosition))
	}
	return interceptor(ctx, in, info, handler)
}

func _MemberStatus_CommitPosition_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.CommitPosition)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(memberStatusServer).CommitPosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.MemberStatus/CommitPosition"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(memberStatusServer).CommitPosition(ctx, req.(*transport.CommitPosition))
	}
	return interceptor(ctx, in, info, handler)
}

// --- ServiceControl service (upward ACKs only; joinLog is sent by this
// process acting as a client against the co-hosted service's own listener) ---

type serviceControlServer interface {
	Ack(ctx context.Context, in *transport.Ack) (*empty, error)
}

type serviceControlImpl struct{ adapter transport.ServiceControlAdapter }

func (s *serviceControlImpl) Ack(ctx context.Context, in *transport.Ack) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.service_control.ack")
	defer end()
	if in != nil {
		s.adapter.OnAck(*in)
	}
	return &empty{}, nil
}

var _ServiceControl_serviceDesc = grpc.ServiceDesc{
	ServiceName: "sequencer.v1.ServiceControl",
	HandlerType: (*serviceControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ack", Handler: _ServiceControl_Ack_Handler},
	},
}

func _ServiceControl_Ack_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.Ack)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(serviceControlServer).Ack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.ServiceControl/Ack"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(serviceControlServer).Ack(ctx, req.(*transport.Ack))
	}
	return interceptor(ctx, in, info, handler)
}

// --- Ingress service ---

type sessionIDReq struct {
	SessionID int64 `json:"sessionId"`
}

type ingressServer interface {
	ConnectRequest(ctx context.Context, in *transport.ConnectRequest) (*empty, error)
	ChallengeResponse(ctx context.Context, in *transport.ChallengeResponse) (*empty, error)
	SessionMessage(ctx context.Context, in *transport.SessionMessage) (*ackResp, error)
	KeepAlive(ctx context.Context, in *sessionIDReq) (*empty, error)
	SessionClose(ctx context.Context, in *sessionIDReq) (*empty, error)
	AdminQuery(ctx context.Context, in *transport.AdminQuery) (*empty, error)
}

type ingressImpl struct{ adapter transport.IngressAdapter }

func (i *ingressImpl) ConnectRequest(ctx context.Context, in *transport.ConnectRequest) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.connect_request")
	defer end()
	if in != nil {
		i.adapter.OnConnectRequest(*in)
	}
	return &empty{}, nil
}

func (i *ingressImpl) ChallengeResponse(ctx context.Context, in *transport.ChallengeResponse) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.challenge_response")
	defer end()
	if in != nil {
		i.adapter.OnChallengeResponse(*in)
	}
	return &empty{}, nil
}

func (i *ingressImpl) SessionMessage(ctx context.Context, in *transport.SessionMessage) (*ackResp, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.session_message")
	defer end()
	if in == nil {
		return &ackResp{OK: true}, nil
	}
	return &ackResp{OK: i.adapter.OnSessionMessage(*in)}, nil
}

func (i *ingressImpl) KeepAlive(ctx context.Context, in *sessionIDReq) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.keep_alive")
	defer end()
	if in != nil {
		i.adapter.OnKeepAlive(in.SessionID)
	}
	return &empty{}, nil
}

func (i *ingressImpl) SessionClose(ctx context.Context, in *sessionIDReq) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.session_close")
	defer end()
	if in != nil {
		i.adapter.OnSessionClose(in.SessionID)
	}
	return &empty{}, nil
}

func (i *ingressImpl) AdminQuery(ctx context.Context, in *transport.AdminQuery) (*empty, error) {
	_, end := tracing.StartSpan(ctx, "grpc.ingress.admin_query")
	defer end()
	if in != nil {
		i.adapter.OnAdminQuery(*in)
	}
	return &empty{}, nil
}

var _Ingress_serviceDesc = grpc.ServiceDesc{
	ServiceName: "sequencer.v1.Ingress",
	HandlerType: (*ingressServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ConnectRequest", Handler: _Ingress_ConnectRequest_Handler},
		{MethodName: "ChallengeResponse", Handler: _Ingress_ChallengeResponse_Handler},
		{MethodName: "SessionMessage", Handler: _Ingress_SessionMessage_Handler},
		{MethodName: "KeepAlive", Handler: _Ingress_KeepAlive_Handler},
		{MethodName: "SessionClose", Handler: _Ingress_SessionClose_Handler},
		{MethodName: "AdminQuery", Handler: _Ingress_AdminQuery_Handler},
	},
}

func _Ingress_KeepAlive_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(sessionIDReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).KeepAlive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/KeepAlive"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).KeepAlive(ctx, req.(*sessionIDReq))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_SessionClose_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(sessionIDReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).SessionClose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/SessionClose"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).SessionClose(ctx, req.(*sessionIDReq))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_AdminQuery_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.AdminQuery)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).AdminQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/AdminQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).AdminQuery(ctx, req.(*transport.AdminQuery))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_ConnectRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.ConnectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).ConnectRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/ConnectRequest"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).ConnectRequest(ctx, req.(*transport.ConnectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_ChallengeResponse_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.ChallengeResponse)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).ChallengeResponse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/ChallengeResponse"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).ChallengeResponse(ctx, req.(*transport.ChallengeResponse))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_SessionMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.SessionMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).SessionMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sequencer.v1.Ingress/SessionMessage"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).SessionMessage(ctx, req.(*transport.SessionMessage))
	}
	return interceptor(ctx, in, info, handler)
}

// --- Egress streaming (leader to a specific client session) ---

type egressSend struct {
	Kind             string                    `json:"kind"`
	Challenge        *transport.Challenge      `json:"challenge,omitempty"`
	ConnectResponse  *transport.ConnectResponse `json:"connectResponse,omitempty"`
	SessionEvent     *transport.SessionEvent   `json:"sessionEvent,omitempty"`
	AdminCorrelation int64                     `json:"adminCorrelationId,omitempty"`
	AdminPayload     []byte                    `json:"adminPayload,omitempty"`
}

type egressSubReq struct {
	SessionID int64 `json:"sessionId"`
}

type egressServer interface {
	Subscribe(*egressSubReq, Egress_SubscribeServer) error
}

type Egress_SubscribeServer interface {
	Send(*egressSend) error
	grpc.ServerStream
}

type egressSub struct {
	ss        grpc.ServerStream
	sessionID int64
}

type egressImpl struct{ server *Server }

func (e *egressImpl) Subscribe(req *egressSubReq, stream Egress_SubscribeServer) error {
	sub := &egressSub{ss: stream}
	if req != nil {
		sub.sessionID = req.SessionID
	}
	e.server.addEgressSub(sub)
	defer e.server.removeEgressSub(sub)
	<-stream.Context().Done()
	return nil
}

var _Egress_serviceDesc = grpc.ServiceDesc{
	ServiceName: "sequencer.v1.Egress",
	HandlerType: (*egressServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		ServerStreams: true,
		Handler:       _Egress_Subscribe_Handler,
	}},
}

func _Egress_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(egressSubReq)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(egressServer).Subscribe(m, &egressSubscribeServer{stream})
}

type egressSubscribeServer struct{ grpc.ServerStream }

func (x *egressSubscribeServer) Send(m *egressSend) error { return x.ServerStream.SendMsg(m) }

func (s *Server) addEgressSub(sub *egressSub) {
	s.egress.mu.Lock()
	defer s.egress.mu.Unlock()
	if s.egress.subs == nil {
		s.egress.subs = make(map[int64]*egressSub)
	}
	s.egress.subs[sub.sessionID] = sub
}

func (s *Server) removeEgressSub(sub *egressSub) {
	s.egress.mu.Lock()
	defer s.egress.mu.Unlock()
	if s.egress.subs[sub.sessionID] == sub {
		delete(s.egress.subs, sub.sessionID)
	}
}

// send delivers one egress message to the session's subscriber stream, if
// connected. Returns false (back-pressure) when there is no subscriber or
// the send fails — the caller retries on the next tick (spec.md §4.9).
func (s *Server) send(sessionID int64, msg *egressSend) bool {
	s.egress.mu.Lock()
	sub, ok := s.egress.subs[sessionID]
	s.egress.mu.Unlock()
	if !ok {
		return false
	}
	return sub.ss.SendMsg(msg) == nil
}

func (s *Server) SendChallenge(_ context.Context, sessionID int64, msg transport.Challenge) bool {
	return s.send(sessionID, &egressSend{Kind: "challenge", Challenge: &msg})
}

func (s *Server) SendConnectResponse(_ context.Context, sessionID int64, msg transport.ConnectResponse) bool {
	return s.send(sessionID, &egressSend{Kind: "connect_response", ConnectResponse: &msg})
}

func (s *Server) SendSessionEvent(_ context.Context, sessionID int64, msg transport.SessionEvent) bool {
	return s.send(sessionID, &egressSend{Kind: "session_event", SessionEvent: &msg})
}

func (s *Server) SendAdminResponse(_ context.Context, sessionID int64, correlationID int64, payload []byte) bool {
	return s.send(sessionID, &egressSend{Kind: "admin_response", AdminCorrelation: correlationID, AdminPayload: payload})
}

var _ transport.EgressPublisher = (*Server)(nil)

// --- lifecycle ---

func (s *Server) Start(ctx context.Context, memberStatus transport.MemberStatusAdapter, serviceControl transport.ServiceControlAdapter, ingress transport.IngressAdapter) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis

	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	srv.RegisterService(&_MemberStatus_serviceDesc, &memberStatusImpl{adapter: memberStatus})
	srv.RegisterService(&_ServiceControl_serviceDesc, &serviceControlImpl{adapter: serviceControl})
	srv.RegisterService(&_Ingress_serviceDesc, &ingressImpl{adapter: ingress})
	srv.RegisterService(&_Egress_serviceDesc, &egressImpl{server: s})

	go func() {
		<-ctx.Done()
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}
