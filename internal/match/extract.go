package match

import (
	"regexp"
	"strconv"
	"strings"

	"gradescan/internal/card"
)

// Patterns recovered from PSA-style label text. Extraction is best-effort:
// a field that cannot be recognized stays empty and the fuzzy stage works
// with whatever is left.
var (
	certPattern   = regexp.MustCompile(`\b\d{7,9}\b`)
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	numberPattern = regexp.MustCompile(`#\s?([A-Za-z]{0,3}\d{1,4})\b`)
	gradePattern  = regexp.MustCompile(`(?i)\b(GEM\s?(?:MT|MINT)|PRISTINE|MINT|NM-?MT|NM|EX-?MT|EX|VG-?EX|VG|GOOD|FR|PR|AUTHENTIC)\b\.?\s*(10|[1-9](?:\.5)?)?`)
)

// ExtractGradedData parses label OCR text into structured grading fields.
//
// PSA labels read top to bottom as "YEAR SET ... NAME #NUMBER / GRADE /
// CERT". After the year, grade, certification, and card number are pulled
// out, the token directly before the card number is taken as the card
// name and the tokens between the year and the name as the set name; with
// no card number the whole remainder becomes the card name for fuzzy
// search to resolve.
func ExtractGradedData(text string) card.GradedData {
	data := card.GradedData{}
	working := strings.Join(strings.Fields(text), " ")
	if working == "" {
		return data
	}

	// The certification number is the longest digit run; grab it before
	// the year pattern can steal a 4-digit prefix of it.
	if m := certPattern.FindString(working); m != "" {
		data.CertificationNumber = m
		working = strings.Replace(working, m, " ", 1)
	}

	if m := yearPattern.FindString(working); m != "" {
		if year, err := strconv.Atoi(m); err == nil {
			data.Year = year
		}
	}

	if m := gradePattern.FindStringSubmatch(working); m != nil {
		data.Grade = strings.Join(strings.Fields(m[0]), " ")
		working = strings.Replace(working, m[0], " ", 1)
	}

	var cardNumber string
	if m := numberPattern.FindStringSubmatch(working); m != nil {
		cardNumber = m[1]
		working = strings.Replace(working, m[0], "|", 1)
	}

	data.CardName, data.SetName = splitNameAndSet(working, data.Year, cardNumber)
	return data
}

// splitNameAndSet carves the leftover words into card name and set name.
// The "|" marker stands where the card number was found.
func splitNameAndSet(working string, year int, cardNumber string) (string, string) {
	// Strip the year token itself; anything before it is holder noise.
	if year != 0 {
		if idx := strings.Index(working, strconv.Itoa(year)); idx >= 0 {
			working = working[idx+4:]
		}
	}

	head := working
	if idx := strings.Index(working, "|"); idx >= 0 {
		head = working[:idx]
	}
	words := strings.Fields(head)
	if len(words) == 0 {
		return "", ""
	}

	if cardNumber == "" || len(words) == 1 {
		return strings.Join(words, " "), ""
	}

	// The word adjacent to the card number is the card name; the rest,
	// reading from the year, is the set name.
	name := words[len(words)-1]
	set := strings.Join(words[:len(words)-1], " ")
	return name, set
}

// CardNumber re-extracts the in-set card number from label text. The
// number is not part of GradedData but drives the exact-card-number
// strategy.
func CardNumber(text string) string {
	if m := numberPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
