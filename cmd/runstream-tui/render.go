// ABOUTME: Terminal renderer that prints streamed response text as deltas arrive
// ABOUTME: Implements client.Observer; output from two slots is tagged when it interleaves

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/runstream/internal/protocol"
)

type renderer struct {
	mu  sync.Mutex
	out io.Writer

	// per slot: the response being printed, how much of its text is out
	// and the text key of the last update seen
	current map[int]string
	printed map[int]int
	lastKey map[int]string

	lastSlot int
	midLine  bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		current:  make(map[int]string),
		printed:  make(map[int]int),
		lastKey:  make(map[int]string),
		lastSlot: -1,
	}
}

var slotColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
}

func slotTag(slot int) string {
	c := slotColors[slot%len(slotColors)]
	return c.Sprintf("[%d] ", slot)
}

// switchTo starts a fresh tagged line when another slot was writing.
func (r *renderer) switchTo(slot int) {
	if r.lastSlot == slot && r.midLine {
		return
	}
	if r.midLine {
		fmt.Fprintln(r.out)
	}
	fmt.Fprint(r.out, slotTag(slot))
	r.lastSlot = slot
	r.midLine = true
}

func (r *renderer) writeDelta(slot int, msg protocol.Message) {
	key := protocol.TextKey(&msg, "")
	if r.lastKey[slot] == key {
		return
	}
	r.lastKey[slot] = key

	if r.current[slot] != msg.MessageID {
		r.current[slot] = msg.MessageID
		r.printed[slot] = 0
	}
	text := protocol.LatestText(&msg, false)
	n := r.printed[slot]
	if len(text) <= n {
		return
	}
	r.switchTo(slot)
	fmt.Fprint(r.out, text[n:])
	r.printed[slot] = len(text)
}

func (r *renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *renderer) MessageUpdated(slot int, msg protocol.Message) {
	if msg.IsCreatedByUser || msg.Error {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeDelta(slot, msg)
}

func (r *renderer) SubmittingChanged(int, bool) {}

func (r *renderer) Finished(slot int, final protocol.FinalFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resp := final.ResponseMessage; resp != nil {
		r.writeDelta(slot, *resp)
	}
	var notes []string
	if final.Aborted {
		notes = append(notes, "stopped")
	}
	if final.Error {
		notes = append(notes, "failed")
	}
	if len(notes) > 0 {
		r.switchTo(slot)
		fmt.Fprint(r.out, color.HiBlackString(" (%s)", strings.Join(notes, ", ")))
	}
	r.endLine()
	r.forget(slot)
}

func (r *renderer) Failed(slot int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.switchTo(slot)
	fmt.Fprint(r.out, color.RedString("error: %s", text))
	r.endLine()
	r.forget(slot)
}

func (r *renderer) forget(slot int) {
	delete(r.current, slot)
	delete(r.printed, slot)
	delete(r.lastKey, slot)
}
