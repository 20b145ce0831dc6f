// Package speech renders answer text as audio with viseme timing marks for
// lip-sync. Synthesis is synchronous when the text fits Polly's limit;
// longer text falls back to asynchronous synthesis tasks that write to the
// object store and are awaited before returning.
package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/bull/docchat/internal/apperr"
)

// Mark is one speech mark: when (milliseconds from audio start) a viseme
// occurs and which one.
type Mark struct {
	Time  int    `json:"time"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PollyAPI is the subset of the Polly client the renderer calls.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	StartSpeechSynthesisTask(ctx context.Context, params *polly.StartSpeechSynthesisTaskInput, optFns ...func(*polly.Options)) (*polly.StartSpeechSynthesisTaskOutput, error)
	GetSpeechSynthesisTask(ctx context.Context, params *polly.GetSpeechSynthesisTaskInput, optFns ...func(*polly.Options)) (*polly.GetSpeechSynthesisTaskOutput, error)
}

// Blobs fetches asynchronous task output from the object store.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Renderer wraps the speech capability with the length-based fallback.
type Renderer struct {
	polly  PollyAPI
	blobs  Blobs
	bucket string
	voice  types.VoiceId
	logger *slog.Logger

	// pollInterval/pollTimeout bound how long Render waits for an
	// asynchronous synthesis task. Minutes-class by default.
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewRenderer creates a Renderer. bucket receives async synthesis output and
// must be the bucket blobs reads from.
func NewRenderer(pollyClient PollyAPI, blobs Blobs, bucket, voice string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		polly:        pollyClient,
		blobs:        blobs,
		bucket:       bucket,
		voice:        types.VoiceId(voice),
		logger:       logger,
		pollInterval: 2 * time.Second,
		pollTimeout:  5 * time.Minute,
	}
}

// Render synthesizes text into mp3 audio plus viseme marks. On a
// text-too-long rejection it falls back to asynchronous synthesis tasks and
// waits for them to complete.
func (r *Renderer) Render(ctx context.Context, text string) ([]byte, []Mark, error) {
	audio, err := r.synthesizeSync(ctx, text, types.OutputFormatMp3, nil)
	if err != nil {
		if isTextTooLong(err) {
			r.logger.Info("Text too long for synchronous synthesis, using task fallback",
				"chars", len(text))
			return r.renderAsync(ctx, text)
		}
		return nil, nil, apperr.Wrap(apperr.KindTransient, "speech.Render", err)
	}

	markBytes, err := r.synthesizeSync(ctx, text, types.OutputFormatJson,
		[]types.SpeechMarkType{types.SpeechMarkTypeViseme})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindTransient, "speech.Render", err)
	}
	marks, err := parseMarks(markBytes)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindModel, "speech.Render", err)
	}
	return audio, marks, nil
}

func (r *Renderer) synthesizeSync(ctx context.Context, text string, format types.OutputFormat, markTypes []types.SpeechMarkType) ([]byte, error) {
	out, err := r.polly.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:          types.EngineNeural,
		OutputFormat:    format,
		Text:            aws.String(text),
		VoiceId:         r.voice,
		SpeechMarkTypes: markTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return data, nil
}

// renderAsync starts one synthesis task for the audio and one for the
// viseme marks, awaits both, and fetches their output objects.
func (r *Renderer) renderAsync(ctx context.Context, text string) ([]byte, []Mark, error) {
	audioBytes, err := r.runTask(ctx, text, types.OutputFormatMp3, nil)
	if err != nil {
		return nil, nil, err
	}
	markBytes, err := r.runTask(ctx, text, types.OutputFormatJson,
		[]types.SpeechMarkType{types.SpeechMarkTypeViseme})
	if err != nil {
		return nil, nil, err
	}
	marks, err := parseMarks(markBytes)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindModel, "speech.Render", err)
	}
	return audioBytes, marks, nil
}

func (r *Renderer) runTask(ctx context.Context, text string, format types.OutputFormat, markTypes []types.SpeechMarkType) ([]byte, error) {
	started, err := r.polly.StartSpeechSynthesisTask(ctx, &polly.StartSpeechSynthesisTaskInput{
		Engine:             types.EngineNeural,
		OutputFormat:       format,
		OutputS3BucketName: aws.String(r.bucket),
		OutputS3KeyPrefix:  aws.String("speech/"),
		Text:               aws.String(text),
		VoiceId:            r.voice,
		SpeechMarkTypes:    markTypes,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "speech.Render",
			fmt.Errorf("start synthesis task: %w", err))
	}

	task, err := r.awaitTask(ctx, aws.ToString(started.SynthesisTask.TaskId))
	if err != nil {
		return nil, err
	}

	key, err := keyFromOutputURI(aws.ToString(task.OutputUri), r.bucket)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModel, "speech.Render", err)
	}
	data, err := r.blobs.Get(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "speech.Render",
			fmt.Errorf("fetch task output: %w", err))
	}
	return data, nil
}

// awaitTask polls until the task completes or the poll budget runs out.
func (r *Renderer) awaitTask(ctx context.Context, taskID string) (*types.SynthesisTask, error) {
	var task *types.SynthesisTask

	b := backoff.NewConstantBackOff(r.pollInterval)
	operation := func() error {
		out, err := r.polly.GetSpeechSynthesisTask(ctx, &polly.GetSpeechSynthesisTaskInput{
			TaskId: aws.String(taskID),
		})
		if err != nil {
			return backoff.Permanent(apperr.Wrap(apperr.KindTransient, "speech.Render", err))
		}
		switch out.SynthesisTask.TaskStatus {
		case types.TaskStatusCompleted:
			task = out.SynthesisTask
			return nil
		case types.TaskStatusFailed:
			return backoff.Permanent(apperr.New(apperr.KindModel, "speech.Render",
				"synthesis task failed: "+aws.ToString(out.SynthesisTask.TaskStatusReason)))
		default:
			return fmt.Errorf("task %s still %s", taskID, out.SynthesisTask.TaskStatus)
		}
	}

	pollCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
	defer cancel()
	if err := backoff.Retry(operation, backoff.WithContext(b, pollCtx)); err != nil {
		var classified *apperr.Error
		if errors.As(err, &classified) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindTransient, "speech.Render",
			fmt.Errorf("synthesis task did not complete: %w", err))
	}
	return task, nil
}

// parseMarks decodes Polly's newline-delimited JSON speech marks.
func parseMarks(data []byte) ([]Mark, error) {
	marks := []Mark{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var mark Mark
		if err := json.Unmarshal(line, &mark); err != nil {
			return nil, fmt.Errorf("parse speech mark %q: %w", line, err)
		}
		marks = append(marks, mark)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan speech marks: %w", err)
	}
	return marks, nil
}

// keyFromOutputURI extracts the object key from a synthesis task's output
// URI, e.g. https://s3.us-east-1.amazonaws.com/bucket/speech/x.mp3.
func keyFromOutputURI(uri, bucket string) (string, error) {
	marker := "/" + bucket + "/"
	i := strings.Index(uri, marker)
	if i < 0 {
		return "", fmt.Errorf("output uri %q does not reference bucket %s", uri, bucket)
	}
	key := uri[i+len(marker):]
	if key == "" {
		return "", fmt.Errorf("output uri %q has no key", uri)
	}
	return key, nil
}

// isTextTooLong detects Polly's rejection of over-limit synchronous input.
func isTextTooLong(err error) bool {
	var tooLong *types.TextLengthExceededException
	return errors.As(err, &tooLong)
}
