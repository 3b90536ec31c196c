// ABOUTME: gRPC ChatService registered from a hand-written service descriptor
// ABOUTME: Requests and responses are google.protobuf.Struct carrying the HTTP API's JSON shapes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/support-desk/internal/auth"
	"github.com/2389/support-desk/internal/conversation"
	"github.com/2389/support-desk/internal/store"
)

// ChatServiceName is the fully qualified gRPC service name.
const ChatServiceName = "support.v1.ChatService"

// ChatServiceServer is the server API for support.v1.ChatService.
type ChatServiceServer interface {
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DashboardStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ChatServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary builds the descriptor entry for one method.
func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ChatServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ChatService_ServiceDesc describes the chat service for grpc.Server.RegisterService.
var ChatService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("OpenConversation", ChatServiceServer.OpenConversation),
		unary("GetConversation", ChatServiceServer.GetConversation),
		unary("SendMessage", ChatServiceServer.SendMessage),
		unary("ListMessages", ChatServiceServer.ListMessages),
		unary("MarkRead", ChatServiceServer.MarkRead),
		unary("CloseConversation", ChatServiceServer.CloseConversation),
		unary("ClaimConversation", ChatServiceServer.ClaimConversation),
		unary("SetStatus", ChatServiceServer.SetStatus),
		unary("DashboardStats", ChatServiceServer.DashboardStats),
		unary("ListConversations", ChatServiceServer.ListConversations),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "support/v1/chat.proto",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatService_ServiceDesc, srv)
}

// chatServer implements ChatServiceServer over the conversation service.
type chatServer struct {
	chat   *conversation.Service
	logger *slog.Logger
}

// conversationRequest addresses one conversation.
type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type openRequest struct {
	Subject string `json:"subject"`
}

type listMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Before         string `json:"before"`
	After          string `json:"after"`
}

type listConversationsRequest struct {
	Status string `json:"status"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

type setStatusRequest struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

func (s *chatServer) OpenConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req openRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	view, created, err := s.chat.OpenConversation(ctx, p, req.Subject)
	if err != nil {
		return nil, s.grpcError("open conversation", err)
	}
	return encodeStruct(OpenConversationResponse{
		Conversation: conversationResponse(view.Conversation, view.UnreadCount),
		Created:      created,
	})
}

func (s *chatServer) GetConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req conversationRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	view, err := s.chat.GetConversation(ctx, p, req.ConversationID)
	if err != nil {
		return nil, s.grpcError("get conversation", err)
	}
	return encodeStruct(conversationResponse(view.Conversation, view.UnreadCount))
}

func (s *chatServer) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req SendMessageRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := s.chat.SendMessage(ctx, req.command(p))
	if err != nil {
		return nil, s.grpcError("send message", err)
	}
	return encodeStruct(SendMessageResponse{
		Message:      messageResponse(res.Message),
		Conversation: conversationResponse(res.Conversation, 0),
		Duplicate:    res.Duplicate,
	})
}

func (s *chatServer) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req listMessagesRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	page, err := s.chat.ListMessages(ctx, p, req.ConversationID, conversation.ListParams{
		Limit:  req.Limit,
		Before: req.Before,
		After:  req.After,
	})
	if err != nil {
		return nil, s.grpcError("list messages", err)
	}
	return encodeStruct(messagePageResponse(req.ConversationID, page))
}

func (s *chatServer) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req conversationRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	n, err := s.chat.MarkRead(ctx, p, req.ConversationID)
	if err != nil {
		return nil, s.grpcError("mark read", err)
	}
	return encodeStruct(MarkReadResponse{Marked: n})
}

func (s *chatServer) CloseConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req conversationRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	conv, err := s.chat.CloseConversation(ctx, conversation.CloseCommand{ConversationID: req.ConversationID, Actor: p})
	if err != nil {
		return nil, s.grpcError("close conversation", err)
	}
	return encodeStruct(conversationResponse(conv, 0))
}

func (s *chatServer) ClaimConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, true)
	if err != nil {
		return nil, err
	}
	var req conversationRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	conv, err := s.chat.ClaimConversation(ctx, conversation.ClaimCommand{ConversationID: req.ConversationID, Agent: p})
	if err != nil {
		return nil, s.grpcError("claim conversation", err)
	}
	return encodeStruct(conversationResponse(conv, 0))
}

func (s *chatServer) SetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, true)
	if err != nil {
		return nil, err
	}
	var req setStatusRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	conv, err := s.chat.SetStatus(ctx, conversation.StatusCommand{
		ConversationID: req.ConversationID,
		Actor:          p,
		Status:         store.ConversationStatus(req.Status),
	})
	if err != nil {
		return nil, s.grpcError("set status", err)
	}
	return encodeStruct(conversationResponse(conv, 0))
}

func (s *chatServer) DashboardStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, true)
	if err != nil {
		return nil, err
	}
	stats, err := s.chat.DashboardStats(ctx, p)
	if err != nil {
		return nil, s.grpcError("dashboard stats", err)
	}
	return encodeStruct(dashboardResponse(stats))
}

func (s *chatServer) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := caller(ctx, false)
	if err != nil {
		return nil, err
	}
	var req listConversationsRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	list, err := s.chat.ListConversations(ctx, p, conversation.ListQuery{
		Status: req.Status,
		Page:   req.Page,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, s.grpcError("list conversations", err)
	}
	return encodeStruct(conversationListResponse(list))
}

// caller returns the authenticated principal, optionally requiring an
// agent or admin role.
func caller(ctx context.Context, elevated bool) (conversation.Principal, error) {
	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return conversation.Principal{}, status.Error(codes.Unauthenticated, "not authenticated")
	}
	if elevated && !authCtx.IsElevated() {
		return conversation.Principal{}, status.Error(codes.PermissionDenied, "agent role required")
	}
	return authCtx.Principal(), nil
}

// decodeStruct reads a request Struct into one of the JSON request types.
func decodeStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encodeStruct converts one of the JSON response types into a Struct.
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// grpcCodeFor maps a conversation error to a status code.
func grpcCodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrAccessDenied):
		return codes.NotFound
	case errors.Is(err, conversation.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, conversation.ErrInvalidTransition):
		return codes.FailedPrecondition
	case errors.Is(err, conversation.ErrConflict):
		return codes.Aborted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func (s *chatServer) grpcError(op string, err error) error {
	switch code := grpcCodeFor(err); code {
	case codes.Internal:
		s.logger.Error("rpc failed", "op", op, "error", err)
		return status.Error(codes.Internal, fmt.Sprintf("%s failed", op))
	case codes.Canceled, codes.DeadlineExceeded:
		return status.Error(code, err.Error())
	default:
		return status.Error(code, publicMessage(err))
	}
}
