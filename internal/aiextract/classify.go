package aiextract

import "github.com/sells-group/enrichment-cli/internal/model"

// lowMissingThreshold is the number of missing core fields at which a record
// is LOW regardless of what the model declared.
const lowMissingThreshold = 3

// Classify combines the model-declared confidence with the number of missing
// core fields.
func Classify(declared model.Confidence, missingCore int) model.Confidence {
	switch {
	case missingCore >= lowMissingThreshold || declared == model.ConfidenceLow:
		return model.ConfidenceLow
	case missingCore == 0 && declared == model.ConfidenceHigh:
		return model.ConfidenceHigh
	}
	return model.ConfidenceMedium
}
