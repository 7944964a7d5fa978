package recognize

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Options are the recognition parameters of a session. They are serialized
// once into the start message; zero values are omitted so the service applies
// its own defaults.
type Options struct {
	// ContentType is the audio format, e.g. "audio/wav" or "audio/l16;rate=16000".
	ContentType string `json:"content-type,omitempty" yaml:"content_type"`

	Model                   string   `json:"model,omitempty" yaml:"model"`
	CustomizationID         string   `json:"customization_id,omitempty" yaml:"customization_id"`
	AcousticCustomizationID string   `json:"acoustic_customization_id,omitempty" yaml:"acoustic_customization_id"`
	CustomizationWeight     *float64 `json:"customization_weight,omitempty" yaml:"customization_weight"`
	BaseModelVersion        string   `json:"base_model_version,omitempty" yaml:"base_model_version"`

	// InactivityTimeout is the number of seconds of silence after which the
	// service reports an inactivity timeout. -1 disables it.
	InactivityTimeout int `json:"inactivity_timeout,omitempty" yaml:"inactivity_timeout"`

	// InterimResults requests non-final results, delivered through
	// [Callback.OnTranscription].
	InterimResults bool `json:"interim_results,omitempty" yaml:"interim_results"`

	Keywords                  []string `json:"keywords,omitempty" yaml:"keywords"`
	KeywordsThreshold         *float64 `json:"keywords_threshold,omitempty" yaml:"keywords_threshold"`
	MaxAlternatives           int      `json:"max_alternatives,omitempty" yaml:"max_alternatives"`
	WordAlternativesThreshold *float64 `json:"word_alternatives_threshold,omitempty" yaml:"word_alternatives_threshold"`
	WordConfidence            bool     `json:"word_confidence,omitempty" yaml:"word_confidence"`
	Timestamps                bool     `json:"timestamps,omitempty" yaml:"timestamps"`

	// ProfanityFilter is a pointer because the service enables it by default.
	ProfanityFilter *bool `json:"profanity_filter,omitempty" yaml:"profanity_filter"`
	SmartFormatting bool  `json:"smart_formatting,omitempty" yaml:"smart_formatting"`
	SpeakerLabels   bool  `json:"speaker_labels,omitempty" yaml:"speaker_labels"`

	// Extra holds parameters not covered by the typed fields. Typed fields win
	// on conflicting keys; "action" is always overwritten.
	Extra map[string]any `json:"-" yaml:"extra"`
}

// Validate reports obviously invalid parameter values.
func (o Options) Validate() error {
	if o.InactivityTimeout < -1 {
		return fmt.Errorf("recognize: inactivity_timeout %d must be -1 or >= 0", o.InactivityTimeout)
	}
	if o.MaxAlternatives < 0 {
		return fmt.Errorf("recognize: max_alternatives %d must not be negative", o.MaxAlternatives)
	}
	if o.CustomizationWeight != nil && (*o.CustomizationWeight < 0 || *o.CustomizationWeight > 1) {
		return fmt.Errorf("recognize: customization_weight %g is out of range [0, 1]", *o.CustomizationWeight)
	}
	if len(o.Keywords) > 0 && o.KeywordsThreshold == nil {
		return fmt.Errorf("recognize: keywords require keywords_threshold")
	}
	return nil
}

// startMessage builds the JSON text of the start control message.
func (o Options) startMessage() ([]byte, error) {
	typed, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("recognize: encode options: %w", err)
	}
	msg := make(map[string]any, len(o.Extra)+8)
	for k, v := range o.Extra {
		msg[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, fmt.Errorf("recognize: encode options: %w", err)
	}
	for k, v := range fields {
		msg[k] = v
	}
	msg["action"] = actionStart
	return json.Marshal(msg)
}
