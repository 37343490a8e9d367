package provider

// Model identifies a known generation model on the primary provider.
// The tables below are the single source of truth for which models exist,
// which are image models, and what each maps to on the secondary provider.
// An unmapped model is a gap caught by tests, not a runtime surprise.
type Model string

const (
	ModelGemini25Flash      Model = "gemini-2.5-flash"
	ModelGemini25FlashLite  Model = "gemini-2.5-flash-lite"
	ModelGemini15Pro        Model = "gemini-1.5-pro"
	ModelGemini25FlashImage Model = "gemini-2.5-flash-image-preview"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/"

// knownModels maps every supported model to its properties.
var knownModels = map[Model]struct {
	image    bool
	fallback string
}{
	ModelGemini25Flash:      {image: false, fallback: "google/gemini-2.5-flash"},
	ModelGemini25FlashLite:  {image: false, fallback: "google/gemini-2.5-flash-lite"},
	ModelGemini15Pro:        {image: false, fallback: "google/gemini-pro-1.5"},
	ModelGemini25FlashImage: {image: true, fallback: "google/gemini-2.5-flash-image-preview"},
}

// ParseModel resolves a wire model name against the known-model table.
func ParseModel(name string) (Model, bool) {
	m := Model(name)
	_, ok := knownModels[m]
	return m, ok
}

// KnownModels returns every supported model name, for allow-list defaults and
// error messages.
func KnownModels() []string {
	names := make([]string, 0, len(knownModels))
	for m := range knownModels {
		names = append(names, string(m))
	}
	return names
}

// IsImage reports whether the model produces images.
func (m Model) IsImage() bool {
	return knownModels[m].image
}

// GoogleEndpoint returns the generateContent URL for the model on the
// primary provider.
func (m Model) GoogleEndpoint() string {
	return googleBaseURL + string(m) + ":generateContent"
}

// FallbackModel returns the secondary-provider equivalent of the model.
// ok is false when no mapping exists, in which case no fallback is possible.
func (m Model) FallbackModel() (string, bool) {
	props, ok := knownModels[m]
	if !ok || props.fallback == "" {
		return "", false
	}
	return props.fallback, true
}

// DefaultModel returns the default model for the capability.
func DefaultModel(image bool) Model {
	if image {
		return ModelGemini25FlashImage
	}
	return ModelGemini25Flash
}
