package api

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wxm/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the decoded GetStatus response.
type Status struct {
	Session      string
	State        string
	StateSince   time.Time
	Uptime       time.Duration
	Phase        string
	Stats        map[string]int64
	ChatCount    int64
	ContactCount int64
	MessageCount int64
}

// Client is a typed client for a running daemon.
type Client struct {
	conn   *grpc.ClientConn
	cc     grpc.ClientConnInterface
	Health healthpb.HealthClient
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	c := NewClient(conn)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, Health: healthpb.NewHealthClient(cc)}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+MirrorServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatus returns the daemon state and loop counters.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.invoke(ctx, "GetStatus", nil)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Session:      str(resp, "session"),
		State:        str(resp, "state"),
		StateSince:   time.UnixMilli(num(resp, "state_since_ms")),
		Uptime:       time.Duration(num(resp, "uptime_ms")) * time.Millisecond,
		Phase:        str(resp, "phase"),
		ChatCount:    num(resp, "chat_count"),
		ContactCount: num(resp, "contact_count"),
		MessageCount: num(resp, "message_count"),
	}
	if stats := resp.GetFields()["stats"].GetStructValue(); stats != nil {
		st.Stats = make(map[string]int64, len(stats.GetFields()))
		for k := range stats.GetFields() {
			st.Stats[k] = num(stats, k)
		}
	}
	return st, nil
}

// ListChats returns roster chats, most recently active first.
func (c *Client) ListChats(ctx context.Context, limit, offset int) ([]store.Chat, error) {
	resp, err := c.invoke(ctx, "ListChats", map[string]any{"limit": limit, "offset": offset})
	if err != nil {
		return nil, err
	}
	var chats []store.Chat
	for _, s := range list(resp, "chats") {
		chats = append(chats, decodeChat(s))
	}
	return chats, nil
}

// ListContacts returns directory contacts whose name contains filter.
func (c *Client) ListContacts(ctx context.Context, filter string, limit, offset int) ([]store.Contact, error) {
	resp, err := c.invoke(ctx, "ListContacts", map[string]any{"filter": filter, "limit": limit, "offset": offset})
	if err != nil {
		return nil, err
	}
	var contacts []store.Contact
	for _, s := range list(resp, "contacts") {
		contacts = append(contacts, decodeContact(s))
	}
	return contacts, nil
}

// ListMessages returns a chat's messages older than beforeMs, newest first.
// A zero beforeMs starts from the latest message.
func (c *Client) ListMessages(ctx context.Context, chatID string, beforeMs int64, limit int) ([]store.Message, error) {
	resp, err := c.invoke(ctx, "ListMessages", map[string]any{"chat_id": chatID, "before_ms": beforeMs, "limit": limit})
	if err != nil {
		return nil, err
	}
	return decodeMessages(resp), nil
}

// SearchMessages finds messages containing query. An empty chatID searches
// every chat.
func (c *Client) SearchMessages(ctx context.Context, query, chatID string, limit int) ([]store.Message, error) {
	resp, err := c.invoke(ctx, "SearchMessages", map[string]any{"query": query, "chat_id": chatID, "limit": limit})
	if err != nil {
		return nil, err
	}
	return decodeMessages(resp), nil
}

func decodeMessages(resp *structpb.Struct) []store.Message {
	var msgs []store.Message
	for _, s := range list(resp, "messages") {
		msgs = append(msgs, decodeMessage(s))
	}
	return msgs
}
