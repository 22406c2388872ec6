package router

import (
	"github.com/campus/messaging/internal/interfaces/http/handler"
)

// Handlers are the REST handlers mounted under the API prefix
type Handlers struct {
	System        *handler.SystemHandler
	Conversations *handler.ConversationHandler
	Messages      *handler.MessageHandler
	Presence      *handler.PresenceHandler
	Notifications *handler.NotificationHandler
	Attachments   *handler.AttachmentHandler
}

// Groups lays out the messaging API
func Groups(h Handlers) []Group {
	return []Group{
		{Name: "system", Prefix: "/system", Routes: []Route{
			Get("/info", h.System.GetSystemInfo).AsPublic(),
			Get("/ping", h.System.Ping).AsPublic(),
		}},
		{Name: "conversations", Prefix: "/conversations", Routes: []Route{
			Post("", h.Conversations.Create),
			Post("/direct", h.Conversations.OpenDirect),
			Get("", h.Conversations.List),
			Get("/:id", h.Conversations.Get),
			Put("/:id/archive", h.Conversations.Archive),
			Put("/:id/pin", h.Conversations.Pin),
			Delete("/:id/leave", h.Conversations.Leave),
			Post("/:id/participants", h.Conversations.AddParticipants),
		}},
		// static segments come before /:id so gin resolves them first
		{Name: "messages", Prefix: "/messages", Routes: []Route{
			Post("/send", h.Messages.Send),
			Post("/attachments", h.Attachments.Initiate),
			Post("/attachments/confirm", h.Attachments.Confirm),
			Get("/conversation/:id", h.Messages.History),
			Get("/user/:userId", h.Messages.WithUser),
			Get("/unread/count", h.Messages.UnreadCount),
			Put("/:id/read", h.Messages.MarkRead),
			Put("/:id", h.Messages.Edit),
			Delete("/:id", h.Messages.Delete),
			Post("/:id/reactions", h.Messages.React),
		}},
		{Name: "presence", Prefix: "/presence", Routes: []Route{
			Get("/online", h.Presence.Online),
			Get("/:userId", h.Presence.Status),
		}},
		{Name: "notifications", Prefix: "/notifications", Routes: []Route{
			Get("", h.Notifications.List),
			Get("/unread/count", h.Notifications.UnreadCount),
			Post("/mark-all-read", h.Notifications.MarkAllRead),
			Patch("/:id/read", h.Notifications.MarkRead),
			Delete("/:id", h.Notifications.Delete),
		}},
	}
}
