package telephony

import (
	"strings"
	"testing"
)

func TestRenderTwiMLReject(t *testing.T) {
	xml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionReject})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := `<Reject reason="busy">`; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderTwiMLConnectRequiresTarget(t *testing.T) {
	_, err := RenderTwiML(InboundCallResult{Action: InboundCallActionConnect})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderTwiMLConnectTargets(t *testing.T) {
	cases := map[string]string{
		"client:rep-1":          "<Client>rep-1</Client>",
		"sip:agent@pbx.example": "<Sip>sip:agent@pbx.example</Sip>",
		"+15551234567":          "<Number>+15551234567</Number>",
	}
	for target, want := range cases {
		xml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionConnect, ConnectTo: target})
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", target, err)
		}
		if !strings.Contains(xml, want) {
			t.Fatalf("%s: expected %q in xml: %s", target, want, xml)
		}
	}
}

func TestBridgeAndVoicemailTwiML(t *testing.T) {
	xml, err := BridgeTwiML("rep-1")
	if err != nil || !strings.Contains(xml, "<Client>rep-1</Client>") {
		t.Fatalf("unexpected bridge twiml %q %v", xml, err)
	}
	if _, err := BridgeTwiML(""); err == nil {
		t.Fatalf("expected error for empty identity")
	}

	xml, err = VoicemailDropTwiML("https://cdn.example/vm.mp3")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(xml, "<Play>https://cdn.example/vm.mp3</Play>") || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("unexpected voicemail twiml: %s", xml)
	}
}

func TestHoldTwiML(t *testing.T) {
	xml, err := HoldTwiML("https://cdn.example/hold.mp3")
	if err != nil || !strings.Contains(xml, `loop="0"`) {
		t.Fatalf("expected looping hold music, got %q %v", xml, err)
	}
	xml, err = HoldTwiML("")
	if err != nil || !strings.Contains(xml, "<Pause") {
		t.Fatalf("expected pause fallback, got %q %v", xml, err)
	}
}
