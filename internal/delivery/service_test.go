package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

type fakeProvider struct {
	channel Channel
	fail    bool

	mu    sync.Mutex
	sends []string
}

func (f *fakeProvider) Channel() Channel { return f.channel }

func (f *fakeProvider) Send(_ context.Context, target string, _ Message) error {
	f.mu.Lock()
	f.sends = append(f.sends, target)
	f.mu.Unlock()
	if f.fail {
		return errors.New("gateway exploded")
	}
	return nil
}

type DispatcherSuite struct {
	suite.Suite
	ctx   context.Context
	store *audit.InMemoryStore
	rcpt  Recipient
	msg   Message
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	s.store = audit.NewInMemoryStore()
	s.rcpt = Recipient{
		EmployeeID: domain.NewEmployeeID(),
		Email:      "maria.gonzalez@example.com",
		Phone:      "+595981234567",
	}
	s.msg = Message{
		NoticeID:   domain.NewNoticeID(),
		Subject:    "Notificación laboral",
		AccessLink: "https://custodia.example/n/abc",
	}
}

// SetupSubTest gives every s.Run block a fresh audit store; testify only
// runs SetupTest per method, so without this the subtests would see each
// other's rows.
func (s *DispatcherSuite) SetupSubTest() {
	s.store = audit.NewInMemoryStore()
}

func (s *DispatcherSuite) dispatcher(providers ...Provider) *Dispatcher {
	return NewDispatcher(audit.NewPublisher(s.store), providers)
}

func (s *DispatcherSuite) kinds() []audit.EventKind {
	events, err := s.store.ListByNotice(s.ctx, s.msg.NoticeID)
	s.Require().NoError(err)
	kinds := make([]audit.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (s *DispatcherSuite) TestDispatch() {
	s.Run("every channel gets the link and an audit row", func() {
		mail := &fakeProvider{channel: ChannelEmail}
		sms := &fakeProvider{channel: ChannelSMS}
		d := s.dispatcher(mail, sms)

		attempts, err := d.Dispatch(s.ctx, s.rcpt, []string{"email", "sms"}, s.msg)
		s.Require().NoError(err)
		s.Len(attempts, 2)
		for _, a := range attempts {
			s.True(a.Succeeded())
		}
		s.Equal([]string{s.rcpt.Email}, mail.sends)
		s.Equal([]string{s.rcpt.Phone}, sms.sends)
		s.ElementsMatch([]audit.EventKind{audit.KindDeliveryEmail, audit.KindDeliverySMS}, s.kinds())
	})

	s.Run("one failing channel does not suppress the others", func() {
		mail := &fakeProvider{channel: ChannelEmail, fail: true}
		wa := &fakeProvider{channel: ChannelWhatsApp}
		d := s.dispatcher(mail, wa)

		attempts, err := d.Dispatch(s.ctx, s.rcpt, []string{"email", "whatsapp"}, s.msg)
		s.Require().NoError(err)
		s.Len(attempts, 2)

		var ok, failed int
		for _, a := range attempts {
			if a.Succeeded() {
				ok++
			} else {
				failed++
			}
		}
		s.Equal(1, ok)
		s.Equal(1, failed)
		s.Equal([]audit.EventKind{audit.KindDeliveryWhatsApp}, s.kinds())
	})

	s.Run("all channels failing is a provider error", func() {
		d := s.dispatcher(&fakeProvider{channel: ChannelEmail, fail: true})
		_, err := d.Dispatch(s.ctx, s.rcpt, []string{"email"}, s.msg)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
	})

	s.Run("channel names are deduplicated case-insensitively", func() {
		mail := &fakeProvider{channel: ChannelEmail}
		d := s.dispatcher(mail)

		attempts, err := d.Dispatch(s.ctx, s.rcpt, []string{"Email", " EMAIL ", "email"}, s.msg)
		s.Require().NoError(err)
		s.Len(attempts, 1)
		s.Len(mail.sends, 1)
	})

	s.Run("missing contact point fails only that channel", func() {
		mail := &fakeProvider{channel: ChannelEmail}
		sms := &fakeProvider{channel: ChannelSMS}
		d := s.dispatcher(mail, sms)

		rcpt := s.rcpt
		rcpt.Phone = ""
		attempts, err := d.Dispatch(s.ctx, rcpt, []string{"email", "sms"}, s.msg)
		s.Require().NoError(err)
		s.Len(attempts, 2)
		s.Empty(sms.sends)
	})

	s.Run("unknown channel name is rejected without a send", func() {
		d := s.dispatcher(&fakeProvider{channel: ChannelEmail})
		attempts, err := d.Dispatch(s.ctx, s.rcpt, []string{"fax", "email"}, s.msg)
		s.Require().NoError(err)
		s.Len(attempts, 2)
	})

	s.Run("greeting is derived from the email address when absent", func() {
		mail := &fakeProvider{channel: ChannelEmail}
		d := s.dispatcher(mail)
		_, err := d.Dispatch(s.ctx, s.rcpt, []string{"email"}, s.msg)
		s.Require().NoError(err)
	})
}

func (s *DispatcherSuite) TestRecordBounce() {
	d := s.dispatcher()
	err := d.RecordBounce(s.ctx, s.msg, ChannelEmail, "mailbox full")
	s.Require().NoError(err)
	s.Equal([]audit.EventKind{audit.KindDeliveryBounced}, s.kinds())
}
