// Package inference talks to an OpenAI-compatible chat completions server
// (Ollama, llama.cpp server, LM Studio, vLLM) to produce relay replies.
//
// Client satisfies relay.Provider and is wired in by the serve command.
package inference
