package internal

import "strings"

// Offer is the result of the interactive-block parser. The engine treats
// Payload as opaque; Start and End locate the raw block inside the content.
type Offer struct {
	Kind    string         `json:"kind" yaml:"kind"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Start   int            `json:"-" yaml:"-"`
	End     int            `json:"-" yaml:"-"`
}

// OfferParser detects an interactive block (e.g. a file-selection prompt)
// inside message content. Implementations live outside the engine.
type OfferParser interface {
	ParseOffer(content string) (*Offer, bool)
}

// OfferParserFunc adapts a function into an OfferParser
type OfferParserFunc func(content string) (*Offer, bool)

// ParseOffer executes f(content)
func (f OfferParserFunc) ParseOffer(content string) (*Offer, bool) {
	if f == nil {
		return nil, false
	}
	return f(content)
}

// attachOffer runs the parser and fills Offer and DisplayContent.
// Content is never modified.
func attachOffer(parser OfferParser, msg Message) Message {
	if parser == nil || msg.Content == "" {
		return msg
	}
	offer, ok := parser.ParseOffer(msg.Content)
	if !ok || offer == nil {
		return msg
	}
	msg.Offer = offer
	msg.DisplayContent = stripBlock(msg.Content, offer.Start, offer.End)
	return msg
}

// stripBlock removes content[start:end], tidying the blank lines it leaves
func stripBlock(content string, start, end int) string {
	if start < 0 || end > len(content) || start >= end {
		return content
	}
	before := strings.TrimRight(content[:start], " \t\n")
	after := strings.TrimLeft(content[end:], " \t\n")
	switch {
	case before == "":
		return after
	case after == "":
		return before
	default:
		return before + "\n\n" + after
	}
}
