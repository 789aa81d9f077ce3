package main

import (
	"fmt"
	"io"

	"github.com/antoniostano/voxline/internal/session"
)

func printEvent(w io.Writer, ev session.Event) {
	ts := ev.At.Format("15:04:05")
	switch ev.Type {
	case session.EventState:
		fmt.Fprintf(w, "%s  [state]   %s\n", ts, ev.State)
	case session.EventTranscript:
		fmt.Fprintf(w, "%s  caller:   %s\n", ts, ev.Text)
	case session.EventReply:
		fmt.Fprintf(w, "%s  agent:    %s\n", ts, ev.Text)
	case session.EventTimeout:
		fmt.Fprintf(w, "%s  [timeout] %s\n", ts, ev.Timeout)
	case session.EventError:
		fmt.Fprintf(w, "%s  [error]   %s\n", ts, ev.Error)
	default:
		fmt.Fprintf(w, "%s  [%s]\n", ts, ev.Type)
	}
}
