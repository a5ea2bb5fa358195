package nostrwire

import (
	"strings"
	"testing"
)

func TestEvent_CanonicalBytes(t *testing.T) {
	t.Parallel()

	ev := Event{
		PubKey:    "abc",
		CreatedAt: 1700000000,
		Kind:      4,
		Tags:      []Tag{PubKeyTag("def"), HashtagTag(PeerTag)},
		Content:   "hello",
	}
	got, err := ev.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	want := `[0,"abc",1700000000,4,[["p","def"],["t","matchbox-nostr-1"]],"hello"]`
	if string(got) != want {
		t.Errorf("CanonicalBytes = %s, want %s", got, want)
	}
}

func TestEvent_CanonicalBytes_NilTags(t *testing.T) {
	t.Parallel()

	ev := Event{PubKey: "abc", CreatedAt: 1, Kind: 4, Content: "x"}
	got, err := ev.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	if !strings.Contains(string(got), `[0,"abc",1,4,[],"x"]`) {
		t.Errorf("CanonicalBytes with nil tags = %s", got)
	}
}

func TestMarshalClientMessage_REQ(t *testing.T) {
	t.Parallel()

	data, err := MarshalClientMessage(ClientMessage{
		Kind:  "REQ",
		SubID: "sub1",
		Filter: &Filter{
			Kinds: []int{KindEncryptedDirectMessage},
			Since: 1700000000,
		},
	})
	if err != nil {
		t.Fatalf("MarshalClientMessage: %v", err)
	}
	want := `["REQ","sub1",{"kinds":[4],"since":1700000000}]`
	if string(data) != want {
		t.Errorf("MarshalClientMessage = %s, want %s", data, want)
	}
}

func TestParseRelayMessage_EVENT(t *testing.T) {
	t.Parallel()

	frame := `["EVENT","sub1",{"id":"aa","pubkey":"bb","created_at":1,"kind":4,"tags":[],"content":"c","sig":"dd"}]`
	msg, err := ParseRelayMessage([]byte(frame))
	if err != nil {
		t.Fatalf("ParseRelayMessage: %v", err)
	}
	if msg.Kind != "EVENT" || msg.SubID != "sub1" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Event == nil || msg.Event.ID != "aa" {
		t.Fatalf("msg.Event = %+v", msg.Event)
	}
}

func TestParseRelayMessage_NOTICE(t *testing.T) {
	t.Parallel()

	msg, err := ParseRelayMessage([]byte(`["NOTICE","rate limited"]`))
	if err != nil {
		t.Fatalf("ParseRelayMessage: %v", err)
	}
	if msg.Kind != "NOTICE" || msg.Notice != "rate limited" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseRelayMessage_OK(t *testing.T) {
	t.Parallel()

	msg, err := ParseRelayMessage([]byte(`["OK","eventid",true,""]`))
	if err != nil {
		t.Fatalf("ParseRelayMessage: %v", err)
	}
	if !msg.OKAccepted || msg.OKEventID != "eventid" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseRelayMessage_RejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		``,
		`[]`,
		`not json`,
		`["EVENT","sub1"]`,
		`["BOGUS","x"]`,
	}
	for _, c := range cases {
		if _, err := ParseRelayMessage([]byte(c)); err == nil {
			t.Errorf("ParseRelayMessage(%q): want error, got nil", c)
		}
	}
}
