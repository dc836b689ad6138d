package api

import (
	"time"

	"github.com/matheus3301/wxm/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests and responses of the mirror service are plain structpb.Struct
// documents. The helpers below translate them to and from store types.

func contactFields(c store.Contact) map[string]any {
	members := make([]any, 0, len(c.Members))
	for _, m := range c.Members {
		members = append(members, map[string]any{
			"id":           m.ID,
			"nick_name":    m.NickName,
			"display_name": m.DisplayName,
		})
	}
	return map[string]any{
		"id":           c.ID,
		"display_name": c.DisplayName,
		"remark_name":  c.RemarkName,
		"signature":    c.Signature,
		"avatar_url":   c.AvatarURL,
		"muted":        c.Muted,
		"sort_key":     c.SortKey,
		"is_group":     c.IsGroup,
		"member_count": c.MemberCount,
		"members":      members,
	}
}

func chatFields(c store.Chat) map[string]any {
	f := contactFields(c.Contact)
	f["last_message_at_ms"] = c.LastMessageAt
	f["last_message_preview"] = c.LastMessagePreview
	return f
}

func messageFields(m store.Message) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"from_id":       m.FromID,
		"to_id":         m.ToID,
		"chat_id":       m.ChatID(),
		"type":          m.Type,
		"content":       m.Content,
		"created_at_ms": m.CreatedAt.UnixMilli(),
		"short_time":    m.ShortTime,
		"incoming":      m.IsIncoming,
	}
}

func listResponse(key string, items []map[string]any) (*structpb.Struct, error) {
	values := make([]any, len(items))
	for i, it := range items {
		values[i] = it
	}
	return structpb.NewStruct(map[string]any{key: values})
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func boolean(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func list(s *structpb.Struct, key string) []*structpb.Struct {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]*structpb.Struct, 0, len(values))
	for _, v := range values {
		if st := v.GetStructValue(); st != nil {
			out = append(out, st)
		}
	}
	return out
}

func decodeContact(s *structpb.Struct) store.Contact {
	c := store.Contact{
		ID:          str(s, "id"),
		DisplayName: str(s, "display_name"),
		RemarkName:  str(s, "remark_name"),
		Signature:   str(s, "signature"),
		AvatarURL:   str(s, "avatar_url"),
		Muted:       boolean(s, "muted"),
		SortKey:     str(s, "sort_key"),
		IsGroup:     boolean(s, "is_group"),
		MemberCount: int(num(s, "member_count")),
	}
	for _, m := range list(s, "members") {
		c.Members = append(c.Members, store.Member{
			ID:          str(m, "id"),
			NickName:    str(m, "nick_name"),
			DisplayName: str(m, "display_name"),
		})
	}
	return c
}

func decodeChat(s *structpb.Struct) store.Chat {
	return store.Chat{
		Contact:            decodeContact(s),
		LastMessageAt:      num(s, "last_message_at_ms"),
		LastMessagePreview: str(s, "last_message_preview"),
	}
}

func decodeMessage(s *structpb.Struct) store.Message {
	return store.Message{
		ID:         str(s, "id"),
		FromID:     str(s, "from_id"),
		ToID:       str(s, "to_id"),
		Type:       int(num(s, "type")),
		Content:    str(s, "content"),
		CreatedAt:  time.UnixMilli(num(s, "created_at_ms")),
		ShortTime:  str(s, "short_time"),
		IsIncoming: boolean(s, "incoming"),
	}
}
