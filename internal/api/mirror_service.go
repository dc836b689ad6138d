package api

import (
	"context"
	"time"

	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/store"
	intsync "github.com/matheus3301/wxm/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MirrorServiceName is the fully qualified gRPC service name.
const MirrorServiceName = "wxm.v1.MirrorService"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Loop exposes the sync loop's progress to the status call.
type Loop interface {
	Phase() intsync.Phase
	Stats() intsync.Stats
}

// MirrorServer is the server side of the mirror query service.
type MirrorServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MirrorServiceDesc describes the mirror query service for grpc.Server.
var MirrorServiceDesc = grpc.ServiceDesc{
	ServiceName: MirrorServiceName,
	HandlerType: (*MirrorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", MirrorServer.GetStatus)},
		{MethodName: "ListChats", Handler: unaryHandler("ListChats", MirrorServer.ListChats)},
		{MethodName: "ListContacts", Handler: unaryHandler("ListContacts", MirrorServer.ListContacts)},
		{MethodName: "ListMessages", Handler: unaryHandler("ListMessages", MirrorServer.ListMessages)},
		{MethodName: "SearchMessages", Handler: unaryHandler("SearchMessages", MirrorServer.SearchMessages)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wxm/v1/mirror",
}

// RegisterMirrorServer registers srv on s.
func RegisterMirrorServer(s grpc.ServiceRegistrar, srv MirrorServer) {
	s.RegisterService(&MirrorServiceDesc, srv)
}

type unaryMethod func(MirrorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + MirrorServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MirrorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MirrorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MirrorService answers queries against the local mirror.
type MirrorService struct {
	sessionName string
	startedAt   time.Time
	db          *store.DB
	machine     *status.Machine
	loop        Loop
}

var _ MirrorServer = (*MirrorService)(nil)

// NewMirrorService creates the query service. loop may be nil before the
// engine exists.
func NewMirrorService(sessionName string, db *store.DB, machine *status.Machine, loop Loop) *MirrorService {
	return &MirrorService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		db:          db,
		machine:     machine,
		loop:        loop,
	}
}

func (s *MirrorService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	current := s.machine.Current()
	fields := map[string]any{
		"session":        s.sessionName,
		"state":          string(current),
		"state_since_ms": s.machine.Since().UnixMilli(),
		"uptime_ms":      time.Since(s.startedAt).Milliseconds(),
	}
	if s.loop != nil {
		st := s.loop.Stats()
		fields["phase"] = string(s.loop.Phase())
		fields["stats"] = map[string]any{
			"cycles":             st.Cycles,
			"empty_probes":       st.EmptyProbes,
			"null_deltas":        st.NullDeltas,
			"deltas":             st.Deltas,
			"errors":             st.Errors,
			"contacts":           st.Contacts,
			"messages":           st.Messages,
			"load_more_requests": st.LoadMoreRequests,
			"lookups":            st.Lookups,
			"skipped":            st.Skipped,
		}
	}
	if s.db != nil {
		if n, err := s.db.ChatCount(); err == nil {
			fields["chat_count"] = n
		}
		if n, err := s.db.ContactCount(); err == nil {
			fields["contact_count"] = n
		}
		if n, err := s.db.MessageCount(); err == nil {
			fields["message_count"] = n
		}
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return resp, nil
}

func (s *MirrorService) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "store not initialized")
	}
	chats, err := s.db.ListChats(limit(req), int(num(req, "offset")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	items := make([]map[string]any, len(chats))
	for i, c := range chats {
		items[i] = chatFields(c)
	}
	return encode(listResponse("chats", items))
}

func (s *MirrorService) ListContacts(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "store not initialized")
	}
	contacts, err := s.db.ListContacts(str(req, "filter"), limit(req), int(num(req, "offset")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list contacts: %v", err)
	}
	items := make([]map[string]any, len(contacts))
	for i, c := range contacts {
		items[i] = contactFields(c)
	}
	return encode(listResponse("contacts", items))
}

func (s *MirrorService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "store not initialized")
	}
	chatID := str(req, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	msgs, err := s.db.ListMessages(chatID, num(req, "before_ms"), limit(req))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return encode(messagesResponse(msgs))
}

func (s *MirrorService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "store not initialized")
	}
	query := str(req, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	msgs, err := s.db.SearchMessages(query, str(req, "chat_id"), limit(req))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return encode(messagesResponse(msgs))
}

func messagesResponse(msgs []store.Message) (*structpb.Struct, error) {
	items := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		items[i] = messageFields(m)
	}
	return listResponse("messages", items)
}

func encode(resp *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

func limit(req *structpb.Struct) int {
	n := int(num(req, "limit"))
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}
