// Package sentiment provides the classifiers the enrichment processor
// chooses between: a dependency-free lexicon heuristic and a hosted model
// backend. Both map text onto the label set {positive, negative, neutral}.
package sentiment

import (
	"context"
	"strings"
)

// Labels produced by every classifier.
const (
	Positive = "positive"
	Negative = "negative"
	Neutral  = "neutral"
)

// polarityThreshold separates a genuine lean from noise. Scores within
// (-0.1, 0.1) are neutral.
const polarityThreshold = 0.1

var positiveWords = map[string]struct{}{
	"great": {}, "amazing": {}, "excellent": {}, "wonderful": {}, "best": {},
	"love": {}, "loved": {}, "fantastic": {}, "brilliant": {}, "inspiring": {},
	"beautiful": {}, "talented": {}, "acclaimed": {}, "celebrated": {},
	"award": {}, "awarded": {}, "success": {}, "successful": {}, "iconic": {},
	"legendary": {}, "beloved": {}, "stunning": {}, "incredible": {},
}

var negativeWords = map[string]struct{}{
	"terrible": {}, "awful": {}, "worst": {}, "hate": {}, "hated": {},
	"scandal": {}, "controversy": {}, "controversial": {}, "lawsuit": {},
	"arrested": {}, "arrest": {}, "failure": {}, "failed": {}, "disgraced": {},
	"criticized": {}, "backlash": {}, "accused": {}, "allegations": {},
	"fraud": {}, "toxic": {}, "disappointing": {}, "boring": {},
}

// Local is the lexicon classifier. It scores text by the balance of
// sentiment-bearing words among the words it recognizes.
type Local struct{}

// NewLocal builds a Local classifier.
func NewLocal() *Local {
	return &Local{}
}

// Classify implements catalog.SentimentClassifier. It never returns an error.
func (l *Local) Classify(_ context.Context, text string) (string, error) {
	var pos, neg int
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]")
		if _, ok := positiveWords[token]; ok {
			pos++
		}
		if _, ok := negativeWords[token]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return Neutral, nil
	}
	polarity := float64(pos-neg) / float64(total)
	switch {
	case polarity > polarityThreshold:
		return Positive, nil
	case polarity < -polarityThreshold:
		return Negative, nil
	default:
		return Neutral, nil
	}
}
