package streaming

import "fmt"

// SSEFrame formats one named Server-Sent-Events frame. event may be empty
// for protocols (OpenAI) that only ever send a bare "data:" line.
func SSEFrame(event string, data []byte) []byte {
	if event == "" {
		return append(append([]byte("data: "), data...), "\n\n"...)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// SSEDone is the final "[DONE]" sentinel OpenAI-protocol clients expect.
const SSEDone = "data: [DONE]\n\n"
