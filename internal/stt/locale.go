// Package stt adapts concrete speech-to-text engines to the transcription
// engine's Transcriber interface.
package stt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Language reduces a platform locale ("en_US", "pt-BR") to the base language
// code speech models expect ("en", "pt"). An empty locale means "auto".
func Language(locale string) (string, error) {
	locale = strings.TrimSpace(locale)
	if locale == "" || strings.EqualFold(locale, "auto") {
		return "auto", nil
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("parse locale %q: %w", locale, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}
