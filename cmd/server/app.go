package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"oralgrader/internal/ai"
	"oralgrader/internal/archive"
	"oralgrader/internal/config"
	"oralgrader/internal/interactions"
	"oralgrader/internal/pipeline"
	"oralgrader/internal/rubric"
	"oralgrader/internal/storage"
	"oralgrader/internal/stt"
	"oralgrader/internal/transcode"
	"oralgrader/internal/transcript"
)

// app is everything behind the transport: the pipeline and its collaborators.
type app struct {
	bundle       *rubric.Bundle
	provider     stt.Provider
	queue        *archive.Queue
	interactions *interactions.Log
	orchestrator *pipeline.Orchestrator
}

func buildApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, sender pipeline.Sender, source transcript.MediaSource) (*app, error) {
	bundle, err := loadRubric(cfg)
	if err != nil {
		return nil, err
	}
	log.WithField("version", bundle.Version).Info("rubric loaded")

	dirs := storage.Dirs{Audio: cfg.AudioDir, Text: cfg.TextDir, Work: cfg.WorkDir}
	if err := dirs.Ensure(); err != nil {
		return nil, err
	}

	store, err := newArchiveStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	queue := archive.NewQueue(archive.NewUploader(store, log), cfg.ArchiveQueueSize, log)

	client := ai.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	provider, err := stt.CreateProvider(cfg, client, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create STT provider: %w", err)
	}

	extractor := transcript.NewExtractor(source, transcode.FFmpeg{Binary: cfg.FFmpegPath}, provider, dirs, log)
	assessor := ai.NewAssessor(client, cfg.OpenAIModel, bundle.Temperature, bundle.MaxTokens, log)
	interactionLog := interactions.Open(cfg.LogFile, queue, log)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Sender:       sender,
		Extractor:    extractor,
		Assessor:     assessor,
		Log:          interactionLog,
		Archive:      queue,
		Rubric:       bundle,
		Dirs:         dirs,
		MessageLimit: cfg.MessageLimit,
	}, log)

	return &app{
		bundle:       bundle,
		provider:     provider,
		queue:        queue,
		interactions: interactionLog,
		orchestrator: orchestrator,
	}, nil
}

func loadRubric(cfg *config.Config) (*rubric.Bundle, error) {
	if cfg.RubricDir != "" {
		return rubric.LoadDir(cfg.RubricDir)
	}
	return rubric.Default()
}

func newArchiveStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (archive.Store, error) {
	switch cfg.ArchiveBackend {
	case "memory":
		log.Warn("archive backend is in-memory, artifacts are not replicated off this process")
		return archive.NewMemoryStore(), nil
	case "drive":
		creds, err := config.CredentialsJSON(cfg.GoogleServiceAccountJSON)
		if err != nil {
			return nil, err
		}
		return archive.NewDriveStore(ctx, creds, cfg.GoogleDriveFolderID)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.ArchiveBackend)
	}
}

// startQueue runs the archive worker until the returned stop function is called;
// stop waits for the worker to drain.
func (a *app) startQueue(ctx context.Context) (stop func()) {
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.queue.Run(qctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
