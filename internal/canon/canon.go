// Package canon définit le format texte canonique des sous-titres: un en-tête
// WEBVTT suivi de blocs (index optionnel, ligne "début --> fin", texte),
// séparés par une ligne vide. Les timestamps sont toujours HH:MM:SS.mmm.
package canon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const Header = "WEBVTT"

const Arrow = " --> "

type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

var timingRe = regexp.MustCompile(`^\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})\s*-->\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})(.*)$`)

// FormatTimestamp formate une durée en HH:MM:SS.mmm (heures toujours présentes).
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMs := d.Milliseconds()
	h := totalMs / 3_600_000
	totalMs %= 3_600_000
	m := totalMs / 60_000
	totalMs %= 60_000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// ParseTimestamp accepte HH:MM:SS.mmm, MM:SS.mmm et la virgule SRT.
func ParseTimestamp(ts string) (time.Duration, error) {
	ts = strings.TrimSpace(strings.Replace(ts, ",", ".", 1))
	main, frac, ok := strings.Cut(ts, ".")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp: %q", ts)
	}
	parts := strings.Split(main, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp: %q", ts)
	}
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(parts[2])
	for len(frac) < 3 {
		frac += "0"
	}
	ms, err4 := strconv.Atoi(frac[:3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, fmt.Errorf("invalid timestamp: %q", ts)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// TimingLine renvoie la ligne "début --> fin".
func TimingLine(start, end time.Duration) string {
	return FormatTimestamp(start) + Arrow + FormatTimestamp(end)
}

// IsTimingLine indique si la ligne est un séparateur de cue.
func IsTimingLine(line string) bool {
	return strings.Contains(line, "-->")
}

// NormalizeTimingLine réécrit une ligne de timing au format canonique en
// conservant les éventuels réglages de cue (align:, position:...).
func NormalizeTimingLine(line string) (string, bool) {
	m := timingRe.FindStringSubmatch(line)
	if m == nil {
		return line, false
	}
	start, err := ParseTimestamp(m[1])
	if err != nil {
		return line, false
	}
	end, err := ParseTimestamp(m[2])
	if err != nil {
		return line, false
	}
	return TimingLine(start, end) + strings.TrimRight(m[3], " \t"), true
}

// Empty renvoie un document sans cue (en-tête seul).
func Empty() string {
	return Header + "\n"
}

// Render sérialise les cues. Les index sont renumérotés séquentiellement.
func Render(cues []Cue) string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteString("\n\n")
	for i, c := range cues {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteByte('\n')
		sb.WriteString(TimingLine(c.Start, c.End))
		sb.WriteByte('\n')
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Parse relit un document canonique. Les blocs sans texte sont ignorés.
func Parse(text string) []Cue {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var cues []Cue
	var current *Cue
	var body []string

	flush := func() {
		if current != nil && len(body) > 0 {
			current.Text = strings.Join(body, "\n")
			cues = append(cues, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if m := timingRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			start, err1 := ParseTimestamp(m[1])
			end, err2 := ParseTimestamp(m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			current = &Cue{Index: len(cues) + 1, Start: start, End: end}
			continue
		}
		if current != nil {
			body = append(body, trimmed)
		}
	}
	flush()
	return cues
}

// HasCues indique si le document contient au moins un bloc avec du texte.
func HasCues(text string) bool {
	return len(Parse(text)) > 0
}

// DialogueLines renvoie les lignes de texte des cues, dans l'ordre.
func DialogueLines(text string) []string {
	var out []string
	for _, c := range Parse(text) {
		out = append(out, strings.Split(c.Text, "\n")...)
	}
	return out
}
