// Package i18n negotiates the response locale from Accept-Language.
package i18n

import (
	"golang.org/x/text/language"
)

type Negotiator struct {
	matcher   language.Matcher
	supported []string
	fallback  string
}

// NewNegotiator builds a matcher over the supported locale codes. The
// first entry of supported acts as the matcher's base; fallback is
// returned whenever negotiation fails outright.
func NewNegotiator(supported []string, fallback string) *Negotiator {
	tags := make([]language.Tag, 0, len(supported))
	for _, code := range supported {
		tag, err := language.Parse(code)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	return &Negotiator{
		matcher:   language.NewMatcher(tags),
		supported: supported,
		fallback:  fallback,
	}
}

// Negotiate picks the best supported locale for an Accept-Language header
// value. An empty or unparsable header yields the fallback.
func (n *Negotiator) Negotiate(acceptLanguage string) string {
	if acceptLanguage == "" {
		return n.fallback
	}
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return n.fallback
	}
	_, idx, conf := n.matcher.Match(prefs...)
	if conf == language.No || idx < 0 || idx >= len(n.supported) {
		return n.fallback
	}
	return n.supported[idx]
}
