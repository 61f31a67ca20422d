// Package gemini implements the engine contract on top of Google's
// Gemini API: image generation through the Imagen models and video
// generation through the Veo models. Each pool account carries its own
// API key in its credential bundle; the adapter maps upstream errors to
// the typed failure kinds the scheduler branches on.
package gemini
