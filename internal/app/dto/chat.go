package dto

import (
	"time"

	"pairchat/internal/domain/chat"
	"pairchat/internal/domain/user"
)

// Credentials is the payload of signup and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AutoAuth carries a reauthentication token.
type AutoAuth struct {
	Token string `json:"token"`
}

type JoinPrivateChat struct {
	TargetUserID string `json:"targetUserId"`
}

// SendPrivateMessage accepts attachment bytes as base64 in JSON.
type SendPrivateMessage struct {
	RoomID            string `json:"roomId"`
	Content           string `json:"content,omitempty"`
	AttachmentPayload []byte `json:"attachmentPayload,omitempty"`
	AttachmentName    string `json:"attachmentName,omitempty"`
}

// RoomRef is the payload of mark_messages_read and the typing events.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

type RegistrationSuccess struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type AuthError struct {
	Message string `json:"message"`
}

// ActiveUser is one entry of the active_users broadcast.
type ActiveUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type TargetUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty"`
	AttachmentName string    `json:"attachmentName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ReadBy         []string  `json:"readBy"`
}

type ChatRoomLoaded struct {
	RoomID     string        `json:"roomId"`
	History    []ChatMessage `json:"history"`
	TargetUser TargetUser    `json:"targetUser"`
}

// MessageNotification tells a recipient that something arrived without
// carrying the message itself.
type MessageNotification struct {
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	RoomID         string `json:"roomId"`
}

type MessagesReadUpdate struct {
	RoomID   string `json:"roomId"`
	ReaderID string `json:"readerId"`
}

type TypingStatus struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type UnreadUpdate struct {
	ConversationID string `json:"conversationId"`
	Count          int64  `json:"count"`
	TargetUserID   string `json:"targetUserId"`
}

func NewChatMessage(msg *chat.Message, senderUsername string) ChatMessage {
	return ChatMessage{
		ID:             string(msg.ID),
		RoomID:         string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		SenderUsername: senderUsername,
		Content:        msg.Content,
		Kind:           string(msg.Kind),
		AttachmentURL:  msg.AttachmentURL,
		AttachmentName: msg.AttachmentName,
		CreatedAt:      msg.CreatedAt,
		ReadBy:         userIDs(msg.ReadBy),
	}
}

func NewChatHistory(messages []*chat.Message) []ChatMessage {
	history := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		history = append(history, NewChatMessage(msg, ""))
	}
	return history
}

func NewActiveUsers(users []*user.User) []ActiveUser {
	out := make([]ActiveUser, 0, len(users))
	for _, u := range users {
		out = append(out, ActiveUser{UserID: string(u.ID), Username: u.Username})
	}
	return out
}

func userIDs(ids []user.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
