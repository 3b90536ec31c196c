// ABOUTME: gRPC client for support.v1.ChatService using Struct-encoded messages
// ABOUTME: Requests and replies reuse the gateway's JSON shapes via protojson

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/support-desk/internal/gateway"
)

// createClient creates a gRPC client connection
func createClient(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// authContext attaches the JWT to outgoing metadata.
func authContext(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

type chatRPC struct {
	conn    grpc.ClientConnInterface
	token   string
	timeout time.Duration
}

// call invokes method with req encoded as a Struct and decodes the reply into out.
func (c *chatRPC) call(ctx context.Context, method string, req any, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(authContext(ctx, c.token), "/"+gateway.ChatServiceName+"/"+method, in, reply); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	data, err := protojson.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding %s reply: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", method, err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s, nil
}

// health asks the standard health service about the chat service.
func (c *chatRPC) health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.ChatServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

type conversationRef struct {
	ConversationID string `json:"conversation_id"`
}

type listRequest struct {
	Status string `json:"status,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type historyRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
	Before         string `json:"before,omitempty"`
}

type statusRequest struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

func (c *chatRPC) ListConversations(ctx context.Context, req listRequest) (*gateway.ConversationListResponse, error) {
	var out gateway.ConversationListResponse
	return &out, c.call(ctx, "ListConversations", req, &out)
}

func (c *chatRPC) GetConversation(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.call(ctx, "GetConversation", conversationRef{id}, &out)
}

func (c *chatRPC) ListMessages(ctx context.Context, req historyRequest) (*gateway.MessagePageResponse, error) {
	var out gateway.MessagePageResponse
	return &out, c.call(ctx, "ListMessages", req, &out)
}

func (c *chatRPC) SendMessage(ctx context.Context, req gateway.SendMessageRequest) (*gateway.SendMessageResponse, error) {
	var out gateway.SendMessageResponse
	return &out, c.call(ctx, "SendMessage", req, &out)
}

func (c *chatRPC) ClaimConversation(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.call(ctx, "ClaimConversation", conversationRef{id}, &out)
}

func (c *chatRPC) CloseConversation(ctx context.Context, id string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.call(ctx, "CloseConversation", conversationRef{id}, &out)
}

func (c *chatRPC) SetStatus(ctx context.Context, id, status string) (*gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	return &out, c.call(ctx, "SetStatus", statusRequest{ConversationID: id, Status: status}, &out)
}

func (c *chatRPC) MarkRead(ctx context.Context, id string) (*gateway.MarkReadResponse, error) {
	var out gateway.MarkReadResponse
	return &out, c.call(ctx, "MarkRead", conversationRef{id}, &out)
}

func (c *chatRPC) DashboardStats(ctx context.Context) (*gateway.DashboardResponse, error) {
	var out gateway.DashboardResponse
	return &out, c.call(ctx, "DashboardStats", nil, &out)
}
