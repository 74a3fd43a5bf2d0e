package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"oralgrader/internal/model"
)

const (
	defaultPollTimeout = 50
	pollErrorDelay     = 3 * time.Second
)

// EventFromUpdate maps an update to a pipeline event. Updates that are not
// /start, a voice message or text are ignored.
func EventFromUpdate(u Update) (model.InboundEvent, bool) {
	msg := u.Message
	if msg == nil {
		return nil, false
	}
	chat := model.Chat{ID: msg.Chat.ID}
	if msg.From != nil {
		chat.UserID = msg.From.ID
		chat.Username = msg.From.Username
	}

	switch {
	case msg.Voice != nil && msg.Voice.FileID != "":
		return model.VoiceMessage{Chat: chat, MediaRef: msg.Voice.FileID}, true
	case isStartCommand(msg.Text):
		return model.StartCommand{Chat: chat}, true
	case msg.Text != "":
		return model.TextMessage{Chat: chat, Body: msg.Text}, true
	}
	return nil, false
}

// isStartCommand accepts "/start", "/start@botname" and "/start <payload>".
func isStartCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/start"
}

type updatesSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, ev model.InboundEvent) error
}

// Poller feeds long-polled updates to a dispatcher.
type Poller struct {
	source      updatesSource
	dispatcher  EventDispatcher
	timeout     int
	errorDelay  time.Duration
	skipBacklog bool
	log         logrus.FieldLogger
}

func NewPoller(source updatesSource, dispatcher EventDispatcher, log logrus.FieldLogger) *Poller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		source:      source,
		dispatcher:  dispatcher,
		timeout:     defaultPollTimeout,
		errorDelay:  pollErrorDelay,
		skipBacklog: true,
		log:         log.WithField("component", "poller"),
	}
}

// Run polls until ctx is cancelled. Updates queued while the bot was offline are
// dropped at startup.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	if p.skipBacklog {
		offset = p.backlogOffset(ctx)
	}
	p.log.WithField("offset", offset).Info("polling for updates")

	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.WithError(err).Error("failed to get updates")
			select {
			case <-time.After(p.errorDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			ev, ok := EventFromUpdate(u)
			if !ok {
				continue
			}
			if err := p.dispatcher.Dispatch(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.WithError(err).WithField("update_id", u.UpdateID).Error("failed to dispatch update")
			}
		}
	}
}

// backlogOffset confirms everything already pending so polling starts from new updates.
func (p *Poller) backlogOffset(ctx context.Context) int64 {
	updates, err := p.source.GetUpdates(ctx, -1, 0)
	if err != nil {
		p.log.WithError(err).Warn("failed to skip pending updates")
		return 0
	}
	if len(updates) == 0 {
		return 0
	}
	return updates[len(updates)-1].UpdateID + 1
}
