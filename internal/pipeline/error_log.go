package pipeline

import (
	"fmt"

	"github.com/ajitpratap0/batchsync/pkg/delivery"
)

// Limits of the diagnostic list carried in a Result.
const (
	MaxErrors      = 100
	MaxErrorLength = delivery.MaxMessageLength
)

// errorLog keeps the first MaxErrors messages and counts the rest.
type errorLog struct {
	messages []string
	dropped  int
}

func (l *errorLog) add(msg string) {
	if len(l.messages) >= MaxErrors {
		l.dropped++
		return
	}
	l.messages = append(l.messages, delivery.Truncate(msg, MaxErrorLength))
}

func (l *errorLog) lines() []string {
	if l.dropped == 0 {
		return l.messages
	}
	out := make([]string, 0, len(l.messages)+1)
	out = append(out, l.messages...)
	return append(out, fmt.Sprintf("... and %d more errors", l.dropped))
}
