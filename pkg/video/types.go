// Package video defines the wire types shared by the dispatch service, the
// machines it provisions and the client SDK.
package video

// Operation is one processing step. Args are handed to the processing
// engine untouched and in order.
type Operation struct {
	Args []string `json:"args"`
}

// Request is the body of POST /process-video.
type Request struct {
	InputURL   string      `json:"input_url"`
	OutputKey  string      `json:"output_key"`
	Operations []Operation `json:"operations"`
}

// Result is the success body of POST /process-video.
type Result struct {
	OutputURL string `json:"output_url"`
}

// ErrorResponse is the failure body of POST /process-video.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Clone returns a deep copy so a submitted request cannot be changed through
// the caller's slices.
func (r *Request) Clone() *Request {
	out := &Request{
		InputURL:  r.InputURL,
		OutputKey: r.OutputKey,
	}
	if r.Operations != nil {
		out.Operations = make([]Operation, len(r.Operations))
		for i, op := range r.Operations {
			out.Operations[i] = NewOperation(op.Args...)
		}
	}
	return out
}
