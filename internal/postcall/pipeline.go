// Package postcall enriches finished call attempts: recording lookup and download,
// dual-language transcription and intent extraction.
//
// Stages run in order and persist their own results as soon as they finish. A failing
// stage stops or degrades later stages but never rolls back what was already written.
package postcall

import (
	"bytes"
	"context"
	"io"
	"time"

	"followup-caller/internal/calls"
	"followup-caller/pkg/logger"
)

// Audio is a downloaded recording.
type Audio struct {
	Data     []byte
	MimeType string
}

// RecordingSource resolves and downloads provider recordings.
type RecordingSource interface {
	// FetchRecording returns ok=false when the call has no recording.
	FetchRecording(ctx context.Context, providerCallID string) (recordingID string, ok bool, err error)
	DownloadRecording(ctx context.Context, recordingID string) (Audio, error)
}

// Transcriber converts speech to text in the given language (ISO 639-1).
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType, language string) (string, error)
}

// Archiver keeps a copy of the recording. Optional.
type Archiver interface {
	Archive(ctx context.Context, providerCallID, recordingID string, audio Audio) (objectKey string, err error)
}

// Store receives each stage's partial result.
type Store interface {
	ApplyPatch(ctx context.Context, providerCallID string, patch calls.Patch, at time.Time) error
}

type Stage string

const (
	StageRecordingResolution Stage = "recording_resolution"
	StageRecordingRetrieval  Stage = "recording_retrieval"
	StageTranscription       Stage = "transcription"
	StageIntentExtraction    Stage = "intent_extraction"
	StageDone                Stage = "done"
)

// Result describes how far processing got.
type Result struct {
	ProviderCallID    string
	StoppedAt         Stage
	RecordingID       string
	TranscriptPrimary string
	TranscriptWorking string
	Intent            Intent
	// Err is the error that stopped the pipeline early, if any. Informational only.
	Err error
}

type Options struct {
	PrimaryLanguage   string
	WorkingLanguage   string
	ResolveTimeout    time.Duration
	DownloadTimeout   time.Duration
	TranscribeTimeout time.Duration
	ClassifyTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.PrimaryLanguage == "" {
		out.PrimaryLanguage = "hi"
	}
	if out.WorkingLanguage == "" {
		out.WorkingLanguage = "en"
	}
	if out.ResolveTimeout <= 0 {
		out.ResolveTimeout = 15 * time.Second
	}
	if out.DownloadTimeout <= 0 {
		out.DownloadTimeout = 60 * time.Second
	}
	if out.TranscribeTimeout <= 0 {
		out.TranscribeTimeout = 120 * time.Second
	}
	if out.ClassifyTimeout <= 0 {
		out.ClassifyTimeout = 30 * time.Second
	}
	return out
}

type Pipeline struct {
	recordings  RecordingSource
	transcriber Transcriber
	extractor   IntentExtractor
	archiver    Archiver
	store       Store
	opts        Options
	clock       func() time.Time
}

func NewPipeline(recordings RecordingSource, transcriber Transcriber, extractor IntentExtractor, archiver Archiver, store Store, opts Options) *Pipeline {
	return &Pipeline{
		recordings:  recordings,
		transcriber: transcriber,
		extractor:   extractor,
		archiver:    archiver,
		store:       store,
		opts:        opts.withDefaults(),
		clock:       time.Now,
	}
}

// Process runs all stages for one call. It never returns an error; Result.StoppedAt
// and Result.Err report where and why it stopped.
func (p *Pipeline) Process(ctx context.Context, providerCallID string) Result {
	log := logger.From(ctx).With("provider_call_id", providerCallID)
	res := Result{ProviderCallID: providerCallID}

	// 1. Recording resolution.
	rctx, cancel := context.WithTimeout(ctx, p.opts.ResolveTimeout)
	recordingID, ok, err := p.recordings.FetchRecording(rctx, providerCallID)
	cancel()
	if err != nil {
		log.Warn("recording lookup failed", "err", err)
		res.StoppedAt, res.Err = StageRecordingResolution, err
		return res
	}
	if !ok {
		log.Info("call has no recording; post-call processing stopped")
		res.StoppedAt = StageRecordingResolution
		return res
	}
	res.RecordingID = recordingID
	p.persist(ctx, providerCallID, calls.Patch{RecordingID: &recordingID})

	// 2. Recording retrieval.
	dctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	audio, err := p.recordings.DownloadRecording(dctx, recordingID)
	cancel()
	if err != nil {
		log.Warn("recording download failed", "recording_id", recordingID, "err", err)
		res.StoppedAt, res.Err = StageRecordingRetrieval, err
		return res
	}
	if p.archiver != nil {
		if key, err := p.archiver.Archive(ctx, providerCallID, recordingID, audio); err != nil {
			log.Warn("recording archive failed", "recording_id", recordingID, "err", err)
		} else {
			p.persist(ctx, providerCallID, calls.Patch{RecordingObjectKey: &key})
		}
	}

	// 3. Dual transcription over one payload.
	reader := bytes.NewReader(audio.Data)
	primary := p.transcribe(ctx, reader, audio.MimeType, p.opts.PrimaryLanguage)
	p.persist(ctx, providerCallID, calls.Patch{TranscriptPrimary: &primary})
	working := p.transcribe(ctx, reader, audio.MimeType, p.opts.WorkingLanguage)
	p.persist(ctx, providerCallID, calls.Patch{TranscriptWorking: &working})
	res.TranscriptPrimary, res.TranscriptWorking = primary, working

	// 4. Intent extraction, only with a working-language transcript.
	if working == "" || p.extractor == nil {
		now := p.clock().UTC()
		p.persist(ctx, providerCallID, calls.Patch{ProcessedAt: &now})
		res.StoppedAt = StageTranscription
		log.Info("post-call processing finished without intent", "primary_chars", len(primary))
		return res
	}
	cctx, cancel := context.WithTimeout(ctx, p.opts.ClassifyTimeout)
	intent, err := p.extractor.Extract(cctx, working)
	cancel()
	if err != nil {
		log.Warn("intent extraction failed", "err", err)
		intent = Intent{}
	}
	res.Intent = intent
	now := p.clock().UTC()
	p.persist(ctx, providerCallID, calls.Patch{
		Intent:         &intent.Intent,
		FutureInterest: &intent.FutureInterest,
		ProcessedAt:    &now,
	})
	res.StoppedAt = StageDone
	log.Info("post-call processing finished", "intent", intent.Intent, "future_interest", intent.FutureInterest)
	return res
}

// transcribe returns "" on any failure so each language fails independently.
func (p *Pipeline) transcribe(ctx context.Context, audio io.ReadSeeker, mimeType, language string) string {
	log := logger.From(ctx).With("language", language)
	if _, err := audio.Seek(0, io.SeekStart); err != nil {
		log.Warn("rewind recording failed", "err", err)
		return ""
	}
	tctx, cancel := context.WithTimeout(ctx, p.opts.TranscribeTimeout)
	defer cancel()
	text, err := p.transcriber.Transcribe(tctx, audio, mimeType, language)
	if err != nil {
		log.Warn("transcription failed", "err", err)
		return ""
	}
	return text
}

func (p *Pipeline) persist(ctx context.Context, providerCallID string, patch calls.Patch) {
	if err := p.store.ApplyPatch(ctx, providerCallID, patch, p.clock().UTC()); err != nil {
		logger.From(ctx).Error("persist post-call result failed", "provider_call_id", providerCallID, "err", err)
	}
}
