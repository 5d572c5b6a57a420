// Package classifier détecte les fichiers "sous-titres" qui ne contiennent que
// des coordonnées de sprites de vignettes (aperçu au survol), pas du dialogue.
package classifier

import (
	"regexp"
	"strings"
)

const (
	scanLines       = 100
	spriteThreshold = 5
)

var (
	spriteRe    = regexp.MustCompile(`#xywh=\d+,\d+,\d+,\d+`)
	imageRefRe  = regexp.MustCompile(`(?i)\.(jpe?g|png|webp|gif|bmp)(\?\S*)?(#\S*)?$`)
	indexLineRe = regexp.MustCompile(`^\d+$`)
)

var directives = []string{"WEBVTT", "NOTE", "STYLE", "REGION", "Kind:", "Language:"}

// Stats résume les compteurs de la dernière analyse.
type Stats struct {
	Scanned    int
	Sprites    int
	Timestamps int
	Text       int
}

// Analyze compte les lignes sprite / timing / texte sur les 100 premières lignes.
func Analyze(content string) Stats {
	var st Stats
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) > scanLines {
		lines = lines[:scanLines]
	}
	st.Scanned = len(lines)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if spriteRe.MatchString(line) {
			st.Sprites++
		}
		if strings.Contains(line, "-->") {
			st.Timestamps++
		}
		if isText(line) {
			st.Text++
		}
	}
	return st
}

// IsThumbnailTrack vaut true ssi plus de 5 lignes sprite et aucune ligne de texte.
//
// Un transcript dont les 100 premières lignes ne contiennent que des timings
// serait aussi classé leurre; le seuil "0 ligne de texte" est conservé tel quel.
func IsThumbnailTrack(content string) bool {
	st := Analyze(content)
	return st.Sprites > spriteThreshold && st.Text == 0
}

func isText(line string) bool {
	if line == "" {
		return false
	}
	for _, d := range directives {
		if strings.HasPrefix(line, d) {
			return false
		}
	}
	if strings.Contains(line, "-->") {
		return false
	}
	if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") {
		return false
	}
	if spriteRe.MatchString(line) || imageRefRe.MatchString(line) {
		return false
	}
	if indexLineRe.MatchString(line) {
		return false
	}
	return true
}
