// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client posts a chat turn and hands back the raw NDJSON body; the
// Decoder turns that body into StreamEvents one fragment at a time.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - ChatRequest: Request structure for /api/chat
//   - Decoder: Line-buffering NDJSON decoder yielding StreamEvents
//   - StreamEvent: Tagged union of delta, done and error records
//   - DecodeWarning: A malformed line, reported without stopping the stream
//
// # Usage
//
//	client := ollama.NewClient()
//	body, err := client.ChatStream(ctx, "qwen2.5:7b", msgs, &ollama.Options{Temperature: 0.7})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
//	dec := ollama.NewDecoder(func(w ollama.DecodeWarning) { log.Print(w) })
//	buf := make([]byte, 4096)
//	for {
//	    n, err := body.Read(buf)
//	    for ev := range dec.Decode(buf[:n]) {
//	        fmt.Print(ev.Delta)
//	    }
//	    if err != nil {
//	        break
//	    }
//	}
package ollama
