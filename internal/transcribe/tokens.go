package transcribe

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Token is a timestamped text fragment emitted by the inference engine.
// Text may carry leading whitespace; Start/End use the engine's native
// "HH:MM:SS,mmm" format. Tokens arrive in non-decreasing time order.
type Token struct {
	Text  string `json:"text"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Segment is a sentence-level aggregate of consecutive tokens. Start and End
// are whole seconds rounded from the first and last constituent token.
type Segment struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result is the artifact returned to the caller: the full text plus the
// ordered segments it was assembled from.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// ParseTimestamp converts an engine timestamp ("HH:MM:SS,mmm") to seconds.
// Returns 0 and false when the value is malformed.
func ParseTimestamp(ts string) (float64, bool) {
	clock, millis, ok := strings.Cut(ts, ",")
	if !ok {
		return 0, false
	}
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	ms, err := strconv.Atoi(millis)
	if err != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000, true
}

// sentenceEnd reports whether the trimmed token text closes a sentence.
// Abbreviations ("Dr.") split incorrectly; known limitation of trailing
// punctuation detection.
func sentenceEnd(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?")
}

// Aggregate groups a time-ordered token sequence into sentence segments.
// A sentence closes on trailing ./!/? or at the final token. Buffered token
// texts are concatenated as-is, trimmed, and runs of whitespace collapsed to
// a single space; a sentence that reduces to empty text emits nothing.
// Malformed timestamps are logged and treated as 0. The function is
// deterministic and keeps no state between calls.
func Aggregate(log zerolog.Logger, tokens []Token) []Segment {
	var segments []Segment
	var buf []Token

	for i, tok := range tokens {
		buf = append(buf, tok)
		if !sentenceEnd(tok.Text) && i != len(tokens)-1 {
			continue
		}

		text := collapseWhitespace(concatText(buf))
		if text != "" {
			segments = append(segments, Segment{
				Text:  text,
				Start: roundSeconds(log, buf[0].Start),
				End:   roundSeconds(log, tok.End),
			})
		}
		buf = buf[:0]
	}
	return segments
}

// JoinText joins segment texts with single spaces, matching the caller-facing
// transcript format.
func JoinText(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func concatText(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func roundSeconds(log zerolog.Logger, ts string) int {
	secs, ok := ParseTimestamp(ts)
	if !ok {
		log.Warn().Str("timestamp", ts).Msg("malformed engine timestamp, treating as 0")
		return 0
	}
	return int(secs + 0.5)
}
