package openai

import "strings"

// ResponseStream drives the responses-API event sequence for one streamed
// request. Events must be emitted in the order the methods appear below,
// with Delta called any number of times between ContentPartAdded and
// TextDone; every event takes the next sequence number, starting at zero.
type ResponseStream struct {
	resp      Response
	itemID    string
	seq       int
	cumulated strings.Builder
}

// NewResponseStream mints the response and output-item ids and the
// in-progress response snapshot the opening events carry.
func NewResponseStream(model string, createdAt int64) *ResponseStream {
	id := newHex()
	return &ResponseStream{
		resp: Response{
			ID:        "resp_" + id,
			Object:    ObjectResponse,
			CreatedAt: createdAt,
			Status:    StatusInProgress,
			Model:     model,
			Output:    []OutputMessage{},
		},
		itemID: "msg_" + id,
	}
}

func (s *ResponseStream) next() int {
	n := s.seq
	s.seq++
	return n
}

// Text returns the reply text accumulated through Delta so far.
func (s *ResponseStream) Text() string {
	return s.cumulated.String()
}

// Created opens the stream with the in-progress response snapshot.
func (s *ResponseStream) Created() ResponseEvent {
	snapshot := s.resp
	return ResponseEvent{Type: EventResponseCreated, SequenceNumber: s.next(), Response: &snapshot}
}

// InProgress repeats the snapshot under the in-progress event type.
func (s *ResponseStream) InProgress() ResponseEvent {
	snapshot := s.resp
	return ResponseEvent{Type: EventResponseInProgress, SequenceNumber: s.next(), Response: &snapshot}
}

// OutputItemAdded announces the single output message, still in progress
// and empty.
func (s *ResponseStream) OutputItemAdded() ResponseEvent {
	item := OutputMessage{
		ID:      s.itemID,
		Type:    "message",
		Role:    RoleAssistant,
		Status:  StatusInProgress,
		Content: []OutputText{},
	}
	return ResponseEvent{
		Type:           EventOutputItemAdded,
		SequenceNumber: s.next(),
		OutputIndex:    Int(0),
		Item:           &item,
	}
}

// ContentPartAdded announces the empty text part deltas will fill.
func (s *ResponseStream) ContentPartAdded() ResponseEvent {
	part := NewOutputText("")
	return ResponseEvent{
		Type:           EventContentPartAdded,
		SequenceNumber: s.next(),
		ItemID:         s.itemID,
		OutputIndex:    Int(0),
		ContentIndex:   Int(0),
		Part:           &part,
	}
}

// Delta carries one upstream chunk and accumulates it for the closing
// events.
func (s *ResponseStream) Delta(chunk string) ResponseEvent {
	s.cumulated.WriteString(chunk)
	return ResponseEvent{
		Type:           EventOutputTextDelta,
		SequenceNumber: s.next(),
		ItemID:         s.itemID,
		OutputIndex:    Int(0),
		ContentIndex:   Int(0),
		Delta:          &chunk,
	}
}

// TextDone repeats the full accumulated text.
func (s *ResponseStream) TextDone() ResponseEvent {
	text := s.cumulated.String()
	return ResponseEvent{
		Type:           EventOutputTextDone,
		SequenceNumber: s.next(),
		ItemID:         s.itemID,
		OutputIndex:    Int(0),
		ContentIndex:   Int(0),
		Text:           &text,
	}
}

// ContentPartDone closes the text part with its final content.
func (s *ResponseStream) ContentPartDone() ResponseEvent {
	part := NewOutputText(s.cumulated.String())
	return ResponseEvent{
		Type:           EventContentPartDone,
		SequenceNumber: s.next(),
		ItemID:         s.itemID,
		OutputIndex:    Int(0),
		ContentIndex:   Int(0),
		Part:           &part,
	}
}

// OutputItemDone closes the output message as completed.
func (s *ResponseStream) OutputItemDone() ResponseEvent {
	item := s.completedItem()
	return ResponseEvent{
		Type:           EventOutputItemDone,
		SequenceNumber: s.next(),
		OutputIndex:    Int(0),
		Item:           &item,
	}
}

// Completed terminates the stream with the completed response snapshot and
// the filled usage block. No sentinel follows it.
func (s *ResponseStream) Completed(usage ResponseUsage) ResponseEvent {
	s.resp.Status = StatusCompleted
	s.resp.Output = []OutputMessage{s.completedItem()}
	s.resp.Usage = &usage
	snapshot := s.resp
	return ResponseEvent{Type: EventResponseCompleted, SequenceNumber: s.next(), Response: &snapshot}
}

func (s *ResponseStream) completedItem() OutputMessage {
	return OutputMessage{
		ID:      s.itemID,
		Type:    "message",
		Role:    RoleAssistant,
		Status:  StatusCompleted,
		Content: []OutputText{NewOutputText(s.cumulated.String())},
	}
}
