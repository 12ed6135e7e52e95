package verify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Phrases that signal a posting is no longer advertised. Includes the
// Danish/Scandinavian variants seen on Nordic university sites.
var closedPhrases = []string{
	"this vacancy has closed",
	"this position has been filled",
	"applications are now closed",
	"this job is no longer available",
	"the deadline has passed",
	"recruitment is closed",
	"stillingen er besat",
	"ansoegningsfristen er udloebet",
}

// Keywords that flag a closing date in nearby text.
var closingKeywords = []string{
	"closing date", "deadline", "apply by", "applications close",
	"last date", "close date", "application deadline",
	"ansoegningsfrist", "ansokningsfrist", "soknadsfrist",
}

var (
	isoDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	ukDatePattern  = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})`)
	usDatePattern  = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})`)
)

var monthNumbers = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// ExtractText pulls readable text from an HTML page, dropping script,
// style and chrome elements.
func ExtractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, nav, footer, header").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// IndicatesClosed reports whether page text carries an explicit closure
// marker.
func IndicatesClosed(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range closedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ExtractClosingDate scans the text regions following closing-date
// keywords for a recognisable date and returns it as an ISO 8601 string,
// or "" when none is found.
func ExtractClosingDate(text string) string {
	lower := strings.ToLower(text)
	for _, keyword := range closingKeywords {
		idx := strings.Index(lower, keyword)
		if idx == -1 {
			continue
		}
		end := idx + 200
		if end > len(text) {
			end = len(text)
		}
		region := text[idx:end]

		if m := isoDatePattern.FindStringSubmatch(region); m != nil {
			if _, err := time.Parse("2006-01-02", m[1]); err == nil {
				return m[1]
			}
		}
		if m := ukDatePattern.FindStringSubmatch(region); m != nil {
			if date, ok := buildDate(m[3], m[2], m[1]); ok {
				return date
			}
		}
		if m := usDatePattern.FindStringSubmatch(region); m != nil {
			if date, ok := buildDate(m[3], m[1], m[2]); ok {
				return date
			}
		}
	}
	return ""
}

// ClosingDatePassed reports whether an ISO closing date lies strictly
// before now. Unparsable or empty dates never close a posting.
func ClosingDatePassed(closingDate string, now time.Time) bool {
	if closingDate == "" {
		return false
	}
	date, err := time.Parse("2006-01-02", closingDate)
	if err != nil {
		return false
	}
	return date.Before(now.Truncate(24 * time.Hour))
}

func buildDate(year, monthName, day string) (string, bool) {
	month, ok := monthNumbers[strings.ToLower(monthName)]
	if !ok {
		return "", false
	}
	var y, d int
	if _, err := fmt.Sscanf(year, "%d", &y); err != nil {
		return "", false
	}
	if _, err := fmt.Sscanf(day, "%d", &d); err != nil {
		return "", false
	}
	if d < 1 || d > 31 {
		return "", false
	}
	return time.Date(y, month, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), true
}
