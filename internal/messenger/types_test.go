package messenger

import (
	"encoding/json"
	"testing"
)

func TestMessagingEvent_Kind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EventKind
	}{
		{"message", `{"sender":{"id":"1"},"recipient":{"id":"2"},"message":{"mid":"m","text":"yo"}}`, KindMessage},
		{"echo", `{"sender":{"id":"2"},"recipient":{"id":"1"},"message":{"mid":"m","text":"yo","is_echo":true}}`, KindEcho},
		{"postback", `{"sender":{"id":"1"},"recipient":{"id":"2"},"postback":{"title":"Start","payload":"GET_STARTED"}}`, KindPostback},
		{"delivery", `{"sender":{"id":"1"},"recipient":{"id":"2"},"delivery":{"mids":["m"],"watermark":1}}`, KindDelivery},
		{"read", `{"sender":{"id":"1"},"recipient":{"id":"2"},"read":{"watermark":1}}`, KindRead},
		{"reaction", `{"sender":{"id":"1"},"recipient":{"id":"2"},"reaction":{"mid":"m","action":"react","emoji":"x"}}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev MessagingEvent
			if err := json.Unmarshal([]byte(tt.raw), &ev); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := ev.Kind(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMessagingEvent_RawPassthrough(t *testing.T) {
	raw := `{"sender":{"id":"1"},"recipient":{"id":"2"},"timestamp":1,"reaction":{"emoji":"x"}}`

	var ev MessagingEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(ev.Raw) != raw {
		t.Errorf("expected raw bytes preserved, got %s", ev.Raw)
	}
	if ev.Sender.ID != "1" || ev.Recipient.ID != "2" || ev.Timestamp != 1 {
		t.Errorf("known fields not decoded: %+v", ev)
	}
}

func TestEnvelope_Decode(t *testing.T) {
	body := `{"object":"page","entry":[{"id":"446574812442849","time":1,"messaging":[{"sender":{"id":"u"},"recipient":{"id":"446574812442849"},"timestamp":1,"message":{"mid":"m","text":"yo","seq":7}}]}]}`

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Object != ObjectPage || len(env.Entry) != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	ev := env.Entry[0].Messaging[0]
	if ev.Text() != "yo" || ev.Message.Seq != 7 {
		t.Errorf("unexpected event: %+v", ev.Message)
	}
}
