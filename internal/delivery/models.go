// Package delivery fans a notice access link out over the employee's
// registered digital channels. Channels fail independently: one provider
// being down never suppresses the others, and every attempt is auditable.
package delivery

import (
	"time"

	"custodia/pkg/domain"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return Channel(s), true
	default:
		return "", false
	}
}

// Recipient carries the employee's registered contact points. A channel is
// only attempted when its contact point is present.
type Recipient struct {
	EmployeeID domain.EmployeeID
	Email      string
	Phone      string
}

// Message is the channel-agnostic payload. Providers render it for their
// medium; the access link is the only mandatory part.
type Message struct {
	NoticeID   domain.NoticeID
	Subject    string
	Greeting   string
	AccessLink string
}

// Attempt records one channel send, success or failure.
type Attempt struct {
	Channel Channel
	Target  string
	SentAt  time.Time
	Err     error
}

func (a Attempt) Succeeded() bool { return a.Err == nil }
