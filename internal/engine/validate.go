package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chatform/flow-engine-go/internal/model"
)

// Question answer types for registration nodes.
const (
	AnswerText   = "text"
	AnswerNumber = "number"
	AnswerPhone  = "phone"
	AnswerEmail  = "email"
	AnswerDate   = "date"
	AnswerFile   = "file"
	AnswerChoice = "choice"
)

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{6,19}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
}

// ValidateAnswer checks an inbound reply against a registration
// question's declared type. The returned value is the normalized answer
// to store.
func ValidateAnswer(q RegQuestion, env *model.Envelope) (string, bool) {
	body := strings.TrimSpace(env.Body)

	switch q.Type {
	case AnswerText, "":
		return body, body != ""

	case AnswerNumber:
		normalized := strings.ReplaceAll(body, ",", ".")
		if _, err := strconv.ParseFloat(normalized, 64); err != nil {
			return "", false
		}
		return normalized, true

	case AnswerPhone:
		if !phoneRe.MatchString(body) {
			return "", false
		}
		return body, true

	case AnswerEmail:
		if !emailRe.MatchString(body) {
			return "", false
		}
		return strings.ToLower(body), true

	case AnswerDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, body); err == nil {
				return t.Format("02/01/2006"), true
			}
		}
		return "", false

	case AnswerFile:
		if !env.HasMedia {
			return "", false
		}
		if body != "" {
			return body, true
		}
		return env.MediaType, true

	case AnswerChoice:
		for _, choice := range q.Choices {
			if strings.EqualFold(strings.TrimSpace(choice), body) {
				return choice, true
			}
		}
		// Accept a 1-based option number as well.
		if n, err := strconv.Atoi(body); err == nil && n >= 1 && n <= len(q.Choices) {
			return q.Choices[n-1], true
		}
		return "", false
	}

	return body, body != ""
}
