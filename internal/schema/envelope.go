// Package schema defines the wire formats shared by the event bus and the
// task queues (spec §6.1, §6.2): the event envelope, the canonical event
// types routed through the `subtitle.events` exchange, and the two task
// bodies carried on `subtitle.download` and `subtitle.translation`.
package schema

import "time"

// EventType is a routing key on the `subtitle.events` exchange. Consumers
// subscribe with exact keys; wildcard patterns are not supported.
type EventType string

const (
	SubtitleRequested         EventType = "subtitle.requested"
	SubtitleDownloadRequested EventType = "subtitle.download.requested"
	SubtitleReady             EventType = "subtitle.ready"
	SubtitleTranslateRequested EventType = "subtitle.translate.requested"
	SubtitleTranslated        EventType = "subtitle.translated"
	TranslationCompleted      EventType = "translation.completed"
	MediaFileDetected         EventType = "media.file.detected"
	JobFailed                 EventType = "job.failed"
)

// Envelope is the JSON message body carried on every event bus message, per
// spec §4.7. Payload is discriminated by EventType; callers decode it into
// the concrete payload struct for that type (see payloads.go).
type Envelope struct {
	EventID   string                 `json:"event_id"`
	EventType EventType              `json:"event_type"`
	JobID     string                 `json:"job_id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
}

// DownloadTask is the body of a message on the subtitle.download queue
// (spec §6.2). Produced by the orchestrator only.
type DownloadTask struct {
	JobID            string   `json:"job_id"`
	VideoURL         string   `json:"video_url"`
	VideoTitle       string   `json:"video_title"`
	Language         string   `json:"language"`
	PreferredSources []string `json:"preferred_sources,omitempty"`
}

// TranslationTask is the body of a message on the subtitle.translation
// queue (spec §6.2). Produced by the orchestrator only, in response to a
// SUBTITLE_TRANSLATE_REQUESTED event from the download worker.
type TranslationTask struct {
	JobID             string `json:"job_id"`
	SubtitleFilePath  string `json:"subtitle_file_path"`
	SourceLanguage    string `json:"source_language"`
	TargetLanguage    string `json:"target_language"`
}
