package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseServerMessageTranscript(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"event":"transcript","payload":{"text":"book a table"}}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	tr, ok := msg.(Transcript)
	if !ok {
		t.Fatalf("message type = %T, want Transcript", msg)
	}
	if tr.Text != "book a table" {
		t.Fatalf("Text = %q, want %q", tr.Text, "book a table")
	}
}

func TestParseServerMessageAudio(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"event":"audio","payload":{"audio":"AQID"}}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if a, ok := msg.(ServerAudio); !ok || a.Audio != "AQID" {
		t.Fatalf("unexpected audio message: %#v", msg)
	}
}

func TestParseServerMessageHeartbeatsWithoutPayload(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{raw: `{"event":"ping"}`, want: Ping{}},
		{raw: `{"event":"pong","payload":{}}`, want: Pong{}},
		{raw: `{"event":"ping","payload":null}`, want: Ping{}},
	}
	for _, tc := range cases {
		raw, want := tc.raw, tc.want
		msg, err := ParseServerMessage([]byte(raw))
		if err != nil {
			t.Fatalf("ParseServerMessage(%s) error = %v", raw, err)
		}
		if msg != want {
			t.Fatalf("ParseServerMessage(%s) = %#v, want %#v", raw, msg, want)
		}
	}
}

func TestParseServerMessageError(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"event":"error","payload":{"message":"stt lagging"}}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if e, ok := msg.(ErrorEvent); !ok || e.Message != "stt lagging" {
		t.Fatalf("unexpected error event: %#v", msg)
	}
}

func TestParseServerMessageRejectsUnknownEvent(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"event":"wat"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseServerMessageRejectsEmptyTranscript(t *testing.T) {
	if _, err := ParseServerMessage([]byte(`{"event":"transcript","payload":{"text":"  "}}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseServerMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseServerMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
	if _, err := ParseServerMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("expected missing event error")
	}
}

func TestOutboundAudioWireShape(t *testing.T) {
	raw, err := json.Marshal(NewAudio("AAAA"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"event":"audio","payload":{"data":"AAAA"}}` {
		t.Fatalf("wire = %s", raw)
	}

	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if a, ok := msg.(ClientAudio); !ok || a.Data != "AAAA" {
		t.Fatalf("unexpected client audio: %#v", msg)
	}
}

func TestOutboundHeartbeatWireShape(t *testing.T) {
	raw, _ := json.Marshal(NewPing())
	if string(raw) != `{"event":"ping","payload":{}}` {
		t.Fatalf("ping wire = %s", raw)
	}
	raw, _ = json.Marshal(NewPong())
	if string(raw) != `{"event":"pong","payload":{}}` {
		t.Fatalf("pong wire = %s", raw)
	}
}

func BenchmarkParseServerMessageTranscript(b *testing.B) {
	raw := []byte(`{"event":"transcript","payload":{"text":"I would like to book an appointment for tomorrow"}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseServerMessage(raw); err != nil {
			b.Fatalf("ParseServerMessage() error = %v", err)
		}
	}
}
