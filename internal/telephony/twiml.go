package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name     `xml:"Dial"`
	CallerID string       `xml:"callerId,attr,omitempty"`
	Timeout  int          `xml:"timeout,attr,omitempty"`
	Number   string       `xml:"Number,omitempty"`
	Sip      *twimlSip    `xml:"Sip,omitempty"`
	Client   *twimlClient `xml:"Client,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlClient struct {
	Identity string `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    *int     `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

const clientPrefix = "client:"

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	switch res.Action {
	case InboundCallActionReject:
		return renderVerbs(twimlReject{Reason: "busy"})
	case InboundCallActionHangup:
		return renderVerbs(twimlHangup{})
	case InboundCallActionConnect:
		if strings.TrimSpace(res.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		return renderVerbs(dialTo(res.ConnectTo))
	default:
		return "", errors.New("telephony: unknown inbound action")
	}
}

// BridgeTwiML connects the live leg to a softphone identity.
func BridgeTwiML(deviceIdentity string) (string, error) {
	if strings.TrimSpace(deviceIdentity) == "" {
		return "", errors.New("telephony: device identity required for bridge")
	}
	return renderVerbs(dialTo(clientPrefix + deviceIdentity))
}

// HoldTwiML parks the leg on hold music, or silence when no URL is configured.
func HoldTwiML(musicURL string) (string, error) {
	if musicURL == "" {
		return renderVerbs(twimlPause{Length: 600})
	}
	loop := 0
	return renderVerbs(twimlPlay{URL: musicURL, Loop: &loop})
}

// AwaitBridgeTwiML keeps an answered leg open until it is bridged or torn down.
func AwaitBridgeTwiML(seconds int) (string, error) {
	return renderVerbs(twimlPause{Length: seconds})
}

// VoicemailDropTwiML plays a recording and hangs up.
func VoicemailDropTwiML(mediaURL string) (string, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return "", errors.New("telephony: media url required for voicemail drop")
	}
	return renderVerbs(twimlPlay{URL: mediaURL}, twimlHangup{})
}

func dialTo(target string) twimlDial {
	d := twimlDial{}
	lower := strings.ToLower(target)
	// Prefer SIP if it looks like sip:..., softphone for client:..., otherwise PSTN.
	switch {
	case strings.HasPrefix(lower, "sip:"):
		d.Sip = &twimlSip{URI: target}
	case strings.HasPrefix(lower, clientPrefix):
		d.Client = &twimlClient{Identity: target[len(clientPrefix):]}
	default:
		d.Number = target
	}
	return d
}

func renderVerbs(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
