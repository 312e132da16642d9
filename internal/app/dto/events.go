package dto

// Inbound socket events.
const (
	EventSignup           = "signup"
	EventLogin            = "login"
	EventAutoAuth         = "auto_auth"
	EventGetActiveUsers   = "get_current_active_users"
	EventJoinPrivateChat  = "join_private_chat"
	EventSendPrivate      = "send_private_message"
	EventMarkMessagesRead = "mark_messages_read"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
)

// Outbound socket events.
const (
	EventRegistrationSuccess = "registration_success"
	EventAuthError           = "auth_error"
	EventActiveUsers         = "active_users"
	EventChatRoomLoaded      = "chat_room_loaded"
	EventNewMessage          = "new_message"
	EventMessageNotification = "message_received_notification"
	EventMessagesReadUpdate  = "messages_read_update"
	EventTypingStatus        = "typing_status"
	EventUnreadUpdates       = "unread_updates"
)
