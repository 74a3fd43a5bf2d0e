package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"oralgrader/internal/ai"
	"oralgrader/internal/archive"
	"oralgrader/internal/model"
	"oralgrader/internal/rubric"
	"oralgrader/internal/segment"
	"oralgrader/internal/storage"
)

// DefaultMessageLimit is the transport's per-message character limit.
const DefaultMessageLimit = 4000

const overflowBaseName = "response"

// Sender delivers replies to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
	SendTyping(ctx context.Context, chatID int64) error
}

type TranscriptExtractor interface {
	Extract(ctx context.Context, mediaRef string) (*model.Transcript, error)
}

type Assessor interface {
	Assess(ctx context.Context, turns []model.Turn) (string, error)
}

type InteractionLog interface {
	Append(ctx context.Context, request, response string) (model.InteractionRecord, error)
}

// TransitionFunc observes every stage an event enters.
type TransitionFunc func(eventID string, ev model.InboundEvent, stage Stage)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sender       Sender
	Extractor    TranscriptExtractor
	Assessor     Assessor
	Log          InteractionLog
	Archive      archive.Notifier
	Rubric       *rubric.Bundle
	Dirs         storage.Dirs
	MessageLimit int
	OnTransition TransitionFunc
}

type Orchestrator struct {
	deps Deps
	now  func() time.Time
	log  logrus.FieldLogger
}

func NewOrchestrator(deps Deps, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if deps.MessageLimit <= 0 {
		deps.MessageLimit = DefaultMessageLimit
	}
	return &Orchestrator{
		deps: deps,
		now:  time.Now,
		log:  log.WithField("component", "pipeline"),
	}
}

// Handle runs ev to completion. It returns StageDone, or StageFailed together
// with a *StageError naming the stage that failed. Logging and delivery problems
// are reported but never fail the event.
func (o *Orchestrator) Handle(ctx context.Context, ev model.InboundEvent) (Stage, error) {
	eventID := uuid.NewString()
	chat := ev.Origin()
	log := o.log.WithFields(logrus.Fields{
		"event_id": eventID,
		"chat_id":  chat.ID,
		"kind":     ev.Kind(),
	})
	enter := func(s Stage) {
		log.WithField("stage", s.String()).Debug("stage entered")
		if o.deps.OnTransition != nil {
			o.deps.OnTransition(eventID, ev, s)
		}
	}
	fail := func(s Stage, err error) (Stage, error) {
		enter(StageFailed)
		log.WithError(err).WithField("stage", s.String()).Error("event processing failed")
		return StageFailed, &StageError{Stage: s, Err: err}
	}

	enter(StageReceived)

	var input string
	switch e := ev.(type) {
	case model.StartCommand:
		o.typing(ctx, log, chat.ID)
		o.send(ctx, log, chat.ID, o.deps.Rubric.Greeting)
		enter(StageDone)
		return StageDone, nil

	case model.TextMessage:
		input = e.Body

	case model.VoiceMessage:
		enter(StageTranscribing)
		tr, err := o.deps.Extractor.Extract(ctx, e.MediaRef)
		if err != nil {
			return fail(StageTranscribing, err)
		}
		o.deliver(ctx, log, chat.ID, o.deps.Rubric.TranscriptPrefix+"\n"+tr.Text)
		// the audio is archived whatever the assessment does
		o.archive(model.RemoteArtifact{LocalPath: tr.AudioPath, RemoteName: tr.RemoteName})
		input = tr.Text

	default:
		return fail(StageReceived, fmt.Errorf("unsupported event %T", ev))
	}

	enter(StageAssessing)
	o.typing(ctx, log, chat.ID)
	result, err := o.deps.Assessor.Assess(ctx, ai.BuildContext(o.deps.Rubric, input))
	if err != nil {
		return fail(StageAssessing, err)
	}

	enter(StageLogging)
	if _, err := o.deps.Log.Append(ctx, input, result); err != nil {
		log.WithError(err).Error("failed to append interaction")
	}

	enter(StageDelivering)
	o.deliver(ctx, log, chat.ID, result)

	enter(StageDone)
	log.WithField("result_length", segment.Len(result)).Info("event processed")
	return StageDone, nil
}

// deliver sends text as one message when it fits, otherwise as ordered chunks.
// A chunk that still exceeds the limit (one very long line) goes out as a text
// document instead.
func (o *Orchestrator) deliver(ctx context.Context, log logrus.FieldLogger, chatID int64, text string) {
	limit := o.deps.MessageLimit
	if segment.Len(text) <= limit {
		o.send(ctx, log, chatID, text)
		return
	}

	chunks := segment.Split(text, limit)
	log.WithField("chunks", len(chunks)).Info("reply split for delivery")
	for _, c := range chunks {
		if segment.Len(c.Text) <= limit {
			o.send(ctx, log, chatID, c.Text)
			continue
		}
		o.sendOversized(ctx, log, chatID, c)
	}
}

func (o *Orchestrator) sendOversized(ctx context.Context, log logrus.FieldLogger, chatID int64, c model.DeliveryChunk) {
	base := fmt.Sprintf("%s_part%d", overflowBaseName, c.Index+1)
	path, err := o.deps.Dirs.SaveOverflowText(base, c.Text, o.now())
	if err != nil {
		log.WithError(err).WithField("chunk", c.Index).Error("failed to save oversized chunk")
		return
	}
	if err := o.deps.Sender.SendDocument(ctx, chatID, path, ""); err != nil {
		log.WithError(err).WithField("chunk", c.Index).Error("failed to send oversized chunk")
	}
	o.archive(model.RemoteArtifact{LocalPath: path})
}

func (o *Orchestrator) typing(ctx context.Context, log logrus.FieldLogger, chatID int64) {
	if err := o.deps.Sender.SendTyping(ctx, chatID); err != nil {
		log.WithError(err).Warn("failed to send typing action")
	}
}

func (o *Orchestrator) send(ctx context.Context, log logrus.FieldLogger, chatID int64, text string) {
	if err := o.deps.Sender.SendText(ctx, chatID, text); err != nil {
		log.WithError(err).Error("failed to send message")
	}
}

func (o *Orchestrator) archive(a model.RemoteArtifact) {
	if o.deps.Archive != nil {
		o.deps.Archive.Notify(a)
	}
}
