package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"oralgrader/internal/model"
	"oralgrader/internal/rubric"
	"oralgrader/internal/storage"
)

// timeline records side effects of every fake in the order they happen.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (tl *timeline) add(s string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, s)
}

func (tl *timeline) all() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

type fakeSender struct {
	tl      *timeline
	mu      sync.Mutex
	texts   []string
	docs    []string
	typing  int
	sendErr error
}

func (s *fakeSender) SendText(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.tl.add("text")
	return s.sendErr
}

func (s *fakeSender) SendDocument(_ context.Context, _ int64, path, _ string) error {
	s.mu.Lock()
	s.docs = append(s.docs, path)
	s.mu.Unlock()
	s.tl.add("document")
	return s.sendErr
}

func (s *fakeSender) SendTyping(context.Context, int64) error {
	s.mu.Lock()
	s.typing++
	s.mu.Unlock()
	s.tl.add("typing")
	return nil
}

type fakeArchive struct {
	tl   *timeline
	seen []model.RemoteArtifact
}

func (a *fakeArchive) Notify(artifact model.RemoteArtifact) {
	a.seen = append(a.seen, artifact)
	a.tl.add("archive")
}

type fakeLog struct {
	tl      *timeline
	records []model.InteractionRecord
	err     error
}

func (l *fakeLog) Append(_ context.Context, request, response string) (model.InteractionRecord, error) {
	l.tl.add("log")
	rec := model.InteractionRecord{Request: request, Response: response}
	if l.err == nil {
		l.records = append(l.records, rec)
	}
	return rec, l.err
}

type mockAssessor struct{ mock.Mock }

func (m *mockAssessor) Assess(ctx context.Context, turns []model.Turn) (string, error) {
	args := m.Called(ctx, turns)
	return args.String(0), args.Error(1)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, mediaRef string) (*model.Transcript, error) {
	args := m.Called(ctx, mediaRef)
	tr, _ := args.Get(0).(*model.Transcript)
	return tr, args.Error(1)
}

type fixture struct {
	tl        *timeline
	sender    *fakeSender
	archive   *fakeArchive
	log       *fakeLog
	assessor  *mockAssessor
	extractor *mockExtractor
	dirs      storage.Dirs
	stages    []Stage
	orch      *Orchestrator
}

func testBundle() *rubric.Bundle {
	return &rubric.Bundle{
		System: "rubric",
		Examples: [2]rubric.Example{
			{Input: "in1", Output: "out1"},
			{Input: "in2", Output: "out2"},
		},
		Greeting:         "Привет, аспирант!",
		TranscriptPrefix: "Расшифровка:",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tl := &timeline{}
	root := t.TempDir()
	f := &fixture{
		tl:        tl,
		sender:    &fakeSender{tl: tl},
		archive:   &fakeArchive{tl: tl},
		log:       &fakeLog{tl: tl},
		assessor:  &mockAssessor{},
		extractor: &mockExtractor{},
		dirs:      storage.Dirs{Audio: root + "/audio", Text: root + "/text", Work: root + "/work"},
	}
	require.NoError(t, f.dirs.Ensure())
	f.orch = NewOrchestrator(Deps{
		Sender:       f.sender,
		Extractor:    f.extractor,
		Assessor:     f.assessor,
		Log:          f.log,
		Archive:      f.archive,
		Rubric:       testBundle(),
		Dirs:         f.dirs,
		MessageLimit: 4000,
		OnTransition: func(_ string, _ model.InboundEvent, s Stage) { f.stages = append(f.stages, s) },
	}, nil)
	return f
}

var chat = model.Chat{ID: 42, UserID: 7, Username: "student"}

func linesOf(n, width int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(strings.Repeat("x", width-1))
		b.WriteString("\n")
	}
	return b.String()
}

func TestOrchestrator_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("Should greet on start without assessing", func(t *testing.T) {
		f := newFixture(t)
		stage, err := f.orch.Handle(ctx, model.StartCommand{Chat: chat})
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)
		assert.Equal(t, []string{"Привет, аспирант!"}, f.sender.texts)
		assert.Equal(t, []string{"typing", "text"}, f.tl.all())
		assert.Equal(t, []Stage{StageReceived, StageDone}, f.stages)
		f.assessor.AssertNotCalled(t, "Assess", mock.Anything, mock.Anything)
		assert.Empty(t, f.log.records)
	})

	t.Run("Should assess text and reply with a single message", func(t *testing.T) {
		f := newFixture(t)
		f.assessor.On("Assess", mock.Anything, mock.MatchedBy(func(turns []model.Turn) bool {
			return len(turns) == 6 && turns[5].Content == "Hello" && turns[0].Content == "rubric"
		})).Return("Level: A2", nil).Once()

		stage, err := f.orch.Handle(ctx, model.TextMessage{Chat: chat, Body: "Hello"})
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)
		assert.Equal(t, []string{"Level: A2"}, f.sender.texts)
		assert.Equal(t, 1, f.sender.typing)
		require.Len(t, f.log.records, 1)
		assert.Equal(t, "Hello", f.log.records[0].Request)
		assert.Equal(t, "Level: A2", f.log.records[0].Response)
		assert.Equal(t, []Stage{StageReceived, StageAssessing, StageLogging, StageDelivering, StageDone}, f.stages)
		assert.Empty(t, f.archive.seen)
		f.assessor.AssertExpectations(t)
	})

	t.Run("Should deliver an oversized result as ordered chunks", func(t *testing.T) {
		f := newFixture(t)
		result := linesOf(90, 100) // 9000 characters
		f.assessor.On("Assess", mock.Anything, mock.Anything).Return(result, nil)

		_, err := f.orch.Handle(ctx, model.TextMessage{Chat: chat, Body: "essay"})
		require.NoError(t, err)

		require.Len(t, f.sender.texts, 3)
		for _, text := range f.sender.texts {
			assert.LessOrEqual(t, len([]rune(text)), 4000)
			assert.NotEmpty(t, text)
		}
		assert.Equal(t, result, strings.Join(f.sender.texts, ""))
		assert.Empty(t, f.sender.docs)
	})

	t.Run("Should send a single oversized line as a document", func(t *testing.T) {
		f := newFixture(t)
		long := strings.Repeat("y", 9000)
		result := "Header\n" + long
		f.assessor.On("Assess", mock.Anything, mock.Anything).Return(result, nil)

		_, err := f.orch.Handle(ctx, model.TextMessage{Chat: chat, Body: "essay"})
		require.NoError(t, err)

		assert.Equal(t, []string{"Header\n"}, f.sender.texts)
		require.Len(t, f.sender.docs, 1)
		data, err := os.ReadFile(f.sender.docs[0])
		require.NoError(t, err)
		assert.Equal(t, long, string(data))
		assert.True(t, strings.HasPrefix(f.sender.docs[0], f.dirs.Text))
		require.Len(t, f.archive.seen, 1)
		assert.Equal(t, f.sender.docs[0], f.archive.seen[0].LocalPath)
		assert.False(t, f.archive.seen[0].UpdateInPlace)
	})

	t.Run("Should acknowledge the transcript and archive audio before assessing", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.On("Extract", mock.Anything, "file-1").
			Return(&model.Transcript{
				Text:       "I like cats",
				Identifier: "I_like_cats",
				AudioPath:  "/a/I_like_cats_0a1b2c3d4e5f.mp3",
				RemoteName: "I_like_cats.mp3",
			}, nil)
		f.assessor.On("Assess", mock.Anything, mock.MatchedBy(func(turns []model.Turn) bool {
			return turns[5].Content == "I like cats"
		})).Return("Good", nil)

		stage, err := f.orch.Handle(ctx, model.VoiceMessage{Chat: chat, MediaRef: "file-1"})
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)

		assert.Equal(t, []string{"Расшифровка:\nI like cats", "Good"}, f.sender.texts)
		require.Len(t, f.archive.seen, 1)
		assert.Equal(t, model.RemoteArtifact{
			LocalPath:  "/a/I_like_cats_0a1b2c3d4e5f.mp3",
			RemoteName: "I_like_cats.mp3",
		}, f.archive.seen[0])
		require.Len(t, f.log.records, 1)
		assert.Equal(t, "I like cats", f.log.records[0].Request)
		assert.Equal(t, []string{"text", "archive", "typing", "log", "text"}, f.tl.all())
		assert.Equal(t, []Stage{StageReceived, StageTranscribing, StageAssessing, StageLogging, StageDelivering, StageDone}, f.stages)
	})

	t.Run("Should split a transcript acknowledgement over the limit", func(t *testing.T) {
		f := newFixture(t)
		spoken := strings.Repeat("слово ", 800) // 4800 runes on one line
		f.extractor.On("Extract", mock.Anything, "long-voice").
			Return(&model.Transcript{Text: spoken, Identifier: "слово_слово_слово_слово", AudioPath: "/a/long.mp3"}, nil)
		f.assessor.On("Assess", mock.Anything, mock.Anything).Return("Good", nil)

		_, err := f.orch.Handle(ctx, model.VoiceMessage{Chat: chat, MediaRef: "long-voice"})
		require.NoError(t, err)

		assert.Equal(t, []string{"Расшифровка:\n", "Good"}, f.sender.texts)
		require.Len(t, f.sender.docs, 1)
		data, err := os.ReadFile(f.sender.docs[0])
		require.NoError(t, err)
		assert.Equal(t, spoken, string(data))
	})

	t.Run("Should fail in transcribing without replying", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.On("Extract", mock.Anything, "file-1").Return(nil, errors.New("ffmpeg exited with status 1"))

		stage, err := f.orch.Handle(ctx, model.VoiceMessage{Chat: chat, MediaRef: "file-1"})
		assert.Equal(t, StageFailed, stage)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageTranscribing, se.Stage)
		assert.Empty(t, f.sender.texts)
		assert.Empty(t, f.log.records)
		assert.Empty(t, f.archive.seen)
		f.assessor.AssertNotCalled(t, "Assess", mock.Anything, mock.Anything)
	})

	t.Run("Should keep the transcript reply and audio when assessment fails", func(t *testing.T) {
		f := newFixture(t)
		apiErr := errors.New("quota exceeded")
		f.extractor.On("Extract", mock.Anything, "file-1").
			Return(&model.Transcript{Text: "hi", Identifier: "hi", AudioPath: "/a/hi.mp3"}, nil)
		f.assessor.On("Assess", mock.Anything, mock.Anything).Return("", apiErr)

		stage, err := f.orch.Handle(ctx, model.VoiceMessage{Chat: chat, MediaRef: "file-1"})
		assert.Equal(t, StageFailed, stage)
		assert.ErrorIs(t, err, apiErr)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageAssessing, se.Stage)

		assert.Equal(t, []string{"Расшифровка:\nhi"}, f.sender.texts)
		assert.Len(t, f.archive.seen, 1)
		assert.Empty(t, f.log.records)
		assert.Equal(t, StageFailed, f.stages[len(f.stages)-1])
	})

	t.Run("Should pass an empty transcript through", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.On("Extract", mock.Anything, "silent").
			Return(&model.Transcript{Text: "", Identifier: "voice_20250101T000000Z", AudioPath: "/a/v.mp3"}, nil)
		f.assessor.On("Assess", mock.Anything, mock.MatchedBy(func(turns []model.Turn) bool {
			return turns[5].Content == ""
		})).Return("Nothing to assess", nil)

		stage, err := f.orch.Handle(ctx, model.VoiceMessage{Chat: chat, MediaRef: "silent"})
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)
		assert.Equal(t, "Расшифровка:\n", f.sender.texts[0])
	})

	t.Run("Should finish when logging and sending fail", func(t *testing.T) {
		f := newFixture(t)
		f.sender.sendErr = errors.New("chat not found")
		f.log.err = errors.New("disk full")
		f.assessor.On("Assess", mock.Anything, mock.Anything).Return("ok", nil)

		stage, err := f.orch.Handle(ctx, model.TextMessage{Chat: chat, Body: "Hello"})
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)
		assert.Equal(t, []string{"ok"}, f.sender.texts)
	})
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageAssessing, Err: inner}
	assert.Equal(t, "assessing: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "stage(99)", Stage(99).String())
}
