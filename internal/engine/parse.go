package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

// Token lines on stdout look like:
//
//	[00:00:00,000 --> 00:00:00,320]  Hello
//
// Some engine builds print fractional seconds with a dot instead of a comma;
// timestamps are normalized to the comma form before they enter a Token.
var tokenLineRe = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2}[.,]\d{3}) --> (\d{2}:\d{2}:\d{2}[.,]\d{3})\](.*)$`)

// Progress lines on stderr look like:
//
//	whisper_print_progress_callback: progress =  15%
var progressLineRe = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

func parseTokenLine(line string) (transcribe.Token, bool) {
	m := tokenLineRe.FindStringSubmatch(line)
	if m == nil {
		return transcribe.Token{}, false
	}
	return transcribe.Token{
		Start: normalizeTimestamp(m[1]),
		End:   normalizeTimestamp(m[2]),
		Text:  strings.TrimRight(m[3], "\r"),
	}, true
}

// parseProgressLine extracts a completion estimate as a fraction in [0,1].
func parseProgressLine(line string) (float64, bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(pct) / 100, true
}

func normalizeTimestamp(ts string) string {
	return strings.Replace(ts, ".", ",", 1)
}
