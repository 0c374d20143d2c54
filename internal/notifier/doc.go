// Package notifier delivers fired reminders to the user.
//
// A Notifier receives (activity id, title, message) and returns once the
// message was handed to every configured sink. Sinks:
//   - log: structured log line (always available, default)
//   - telegram: bot message to a fixed chat (telebot)
//   - slack: message to a channel (slack-go)
//   - whatsapp: Twilio WhatsApp message
//
// Service wraps the sinks with a token-bucket rate limit, a small in-memory
// history for diagnostics, and notification.* events on the bus.
// Delivery is attempted once; retry policy belongs to the caller.
package notifier
