package kie

import "strings"

// TaskParams carries the user-facing generation parameters. Each model
// family maps these onto its own wire shape.
type TaskParams struct {
	Prompt      string
	ImageURLs   []string
	AspectRatio string
	CallbackURL string
}

// payloadBuilder maps TaskParams onto the wire payload for one model
// family. Some families take a flat body, others nest the generation
// parameters under an "input" key. This is a provider quirk that must
// be preserved per model.
type payloadBuilder func(model string, p TaskParams) map[string]any

// modelFamily describes how to talk to the provider for one family of
// models: which endpoints to hit, which payload shape to send, and
// which status vocabulary the family reports.
type modelFamily struct {
	CreatePath string
	StatusPath string
	// Audio families report the upper-case `status` vocabulary instead
	// of the `state` one.
	Audio bool
	Build payloadBuilder
}

// modelFamilies is the dispatch table keyed by model id prefix. New
// models are added as table entries, not as new conditionals.
var modelFamilies = map[string]modelFamily{
	"flux-kontext": {
		CreatePath: "/api/v1/flux/kontext/generate",
		StatusPath: "/api/v1/flux/kontext/record-info",
		Build:      buildFlatPayload,
	},
	"gpt4o-image": {
		CreatePath: "/api/v1/gpt4o-image/generate",
		StatusPath: "/api/v1/gpt4o-image/record-info",
		Build:      buildGPT4oPayload,
	},
	"veo": {
		CreatePath: "/api/v1/veo/generate",
		StatusPath: "/api/v1/veo/record-info",
		Build:      buildFlatPayload,
	},
	"suno": {
		CreatePath: "/api/v1/generate",
		StatusPath: "/api/v1/generate/record-info",
		Audio:      true,
		Build:      buildSunoPayload,
	},
	"google/nano-banana": {
		CreatePath: "/api/v1/jobs/createTask",
		StatusPath: "/api/v1/jobs/recordInfo",
		Build:      buildNestedPayload,
	},
}

// familyFor resolves a model id to its family by longest matching
// prefix. Unknown models fall back to the nested jobs API, which is
// the provider's generic surface.
func familyFor(model string) modelFamily {
	var best string
	for prefix := range modelFamilies {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return modelFamilies["google/nano-banana"]
	}
	return modelFamilies[best]
}

func buildFlatPayload(model string, p TaskParams) map[string]any {
	payload := map[string]any{
		"model":  model,
		"prompt": p.Prompt,
	}
	if len(p.ImageURLs) > 0 {
		payload["imageUrls"] = p.ImageURLs
	}
	if p.AspectRatio != "" {
		payload["aspectRatio"] = p.AspectRatio
	}
	if p.CallbackURL != "" {
		payload["callBackUrl"] = p.CallbackURL
	}
	return payload
}

// The gpt4o-image endpoint uses filesUrl and size instead of the usual
// field names.
func buildGPT4oPayload(model string, p TaskParams) map[string]any {
	payload := map[string]any{
		"prompt": p.Prompt,
	}
	if len(p.ImageURLs) > 0 {
		payload["filesUrl"] = p.ImageURLs
	}
	if p.AspectRatio != "" {
		payload["size"] = p.AspectRatio
	}
	if p.CallbackURL != "" {
		payload["callBackUrl"] = p.CallbackURL
	}
	return payload
}

func buildSunoPayload(model string, p TaskParams) map[string]any {
	payload := map[string]any{
		"model":        model,
		"prompt":       p.Prompt,
		"customMode":   false,
		"instrumental": false,
	}
	if p.CallbackURL != "" {
		payload["callBackUrl"] = p.CallbackURL
	}
	return payload
}

// buildNestedPayload wraps the generation parameters under "input" for
// the generic jobs API.
func buildNestedPayload(model string, p TaskParams) map[string]any {
	input := map[string]any{
		"prompt": p.Prompt,
	}
	if len(p.ImageURLs) > 0 {
		input["image_urls"] = p.ImageURLs
	}
	if p.AspectRatio != "" {
		input["aspect_ratio"] = p.AspectRatio
	}

	payload := map[string]any{
		"model": model,
		"input": input,
	}
	if p.CallbackURL != "" {
		payload["callBackUrl"] = p.CallbackURL
	}
	return payload
}
