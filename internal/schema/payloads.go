package schema

// Payload shapes carried inside Envelope.Payload for each EventType. These
// are not wire types in themselves (the envelope's Payload field is a loose
// map so forward-compatible fields survive round-trips per spec §6.1); they
// exist so producers and consumers agree on field names via ToMap /
// Decode instead of hand-building maps ad hoc.

// SubtitleRequestedPayload is carried by subtitle.requested.
type SubtitleRequestedPayload struct {
	VideoURL   string            `json:"video_url"`
	VideoTitle string            `json:"video_title"`
	Language   string            `json:"language"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SubtitleReadyPayload is carried by subtitle.ready.
type SubtitleReadyPayload struct {
	ResultURL string `json:"result_url"`
	Language  string `json:"language"`
}

// SubtitleTranslateRequestedPayload is carried by subtitle.translate.requested.
type SubtitleTranslateRequestedPayload struct {
	SubtitleFilePath string `json:"subtitle_file_path"`
	SourceLanguage   string `json:"source_language"`
	TargetLanguage   string `json:"target_language"`
	Reason           string `json:"reason,omitempty"`
}

// TranslationCompletedPayload is carried by translation.completed.
type TranslationCompletedPayload struct {
	SourceLanguage  string  `json:"source_language"`
	TargetLanguage  string  `json:"target_language"`
	SubtitlePath    string  `json:"subtitle_path"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// SubtitleTranslatedPayload is carried by subtitle.translated.
type SubtitleTranslatedPayload struct {
	SubtitlePath string `json:"subtitle_path"`
	Language     string `json:"language"`
}

// MediaFileDetectedPayload is carried by media.file.detected (audit only).
type MediaFileDetectedPayload struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// JobFailedPayload is carried by job.failed.
type JobFailedPayload struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// ToMap converts a typed payload into the loose map the Envelope carries,
// via a JSON round trip so field tags are respected.
func ToMap(v interface{}) (map[string]interface{}, error) {
	return toMap(v)
}

// Decode decodes an Envelope's loose Payload map into a typed payload
// struct, via a JSON round trip.
func Decode(payload map[string]interface{}, out interface{}) error {
	return decode(payload, out)
}
