// Package telephony renders voice-markup responses for the provider
// webhook and places outbound calls through the provider's REST API.
// Every webhook reply the service produces goes through this package, so
// malformed markup cannot reach the provider even on internal failure.
package telephony

import (
	"encoding/xml"
)

// Say speaks the given text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather speaks an optional prompt and then captures the caller's speech,
// posting the result to Action.  Timeout is the silence window in seconds;
// when it elapses without speech the provider posts an empty result.
type Gather struct {
	XMLName xml.Name `xml:"Gather"`
	Input   string   `xml:"input,attr"`
	Action  string   `xml:"action,attr"`
	Timeout int      `xml:"timeout,attr"`
	Say     *Say     `xml:"Say,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response is the root voice-markup document.  Verbs are rendered in
// order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []interface{}
}

// Render serializes the response with the XML declaration.  A marshalling
// failure returns the safe fallback document instead of an error so
// callers always have valid markup to return.
func (r Response) Render() string {
	out, err := xml.Marshal(r)
	if err != nil {
		return SafeFallback
	}
	return xml.Header + string(out)
}

// GatherSpeech builds the standard mid-call response: speak the prompt,
// then capture the next patient turn.
func GatherSpeech(prompt, actionURL string, timeoutSeconds int) Response {
	return Response{Verbs: []interface{}{
		Gather{
			Input:   "speech",
			Action:  actionURL,
			Timeout: timeoutSeconds,
			Say:     &Say{Text: prompt},
		},
	}}
}

// SayAndHangup speaks final words and ends the call.
func SayAndHangup(text string) Response {
	return Response{Verbs: []interface{}{
		Say{Text: text},
		Hangup{},
	}}
}

// SafeFallback is a constant, known-valid markup document spoken when the
// service cannot produce a normal response.  It is a string constant, not
// a rendered struct, so it cannot itself fail.
const SafeFallback = xml.Header +
	`<Response><Say>We're sorry, we are unable to continue this call right now. ` +
	`Your care team will follow up with you. Goodbye.</Say><Hangup></Hangup></Response>`
