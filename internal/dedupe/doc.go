// Package dedupe tracks completed response messages.
//
// A client session shares one Cache between its slots. The final frame
// handler marks the response message id, and the cancel path uses
// CheckAndMark so that a run already finished by a final frame is not
// aborted a second time. The error path calls Remove so a retried
// submission can complete normally.
package dedupe
