// Package embeddings provides the text embedders behind clause retrieval.
//
// Two providers are supported: "openai" talks to any OpenAI-compatible
// /embeddings endpoint (TEI, OpenAI, Groq-hosted models) through langchaingo,
// and "fastembed" runs a local ONNX model in process (cgo builds only).
package embeddings
