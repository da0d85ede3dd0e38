// Package generation talks to the external text generation service.
//
// Generator is the only contract the rest of the gateway depends on.
// OpenAI and Anthropic adapt the vendor SDKs behind narrow client
// interfaces so tests can substitute stubs. Offline needs no network and
// is used when no provider is configured.
//
// Fallback wraps any Generator with the call policy: a per-attempt
// timeout, and on failure exactly one retry against a designated fallback
// model. If both attempts fail the error wraps ErrUnavailable.
package generation
