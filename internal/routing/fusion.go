package routing

import (
	"github.com/schooldesk/assistant/internal/classifier"
)

// DecisionSource names which input won fusion.
type DecisionSource string

const (
	SourcePattern    DecisionSource = "pattern"
	SourceClassifier DecisionSource = "classifier"
	SourceFallback   DecisionSource = "fallback"
)

// Decision is the fused outcome for one message.
type Decision struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Entities     map[string]string `json:"entities,omitempty"`
	Source       DecisionSource    `json:"source"`
	FallbackUsed bool              `json:"fallback_used"`
}

// Fusion combines router and classifier outputs under two independent
// thresholds. The router threshold sits below the classifier threshold on
// purpose: a curated pattern hit, even weak, outranks a statistical guess.
type Fusion struct {
	RouterThreshold     float64
	ClassifierThreshold float64
	FallbackIntent      string
}

// NewFusion builds a fusion layer with the given thresholds.
func NewFusion(routerThreshold, classifierThreshold float64, fallbackIntent string) Fusion {
	if fallbackIntent == "" {
		fallbackIntent = "unhandled"
	}
	return Fusion{
		RouterThreshold:     routerThreshold,
		ClassifierThreshold: classifierThreshold,
		FallbackIntent:      fallbackIntent,
	}
}

// NeedsClassifier reports whether the classifier should be consulted at all.
// A router result at or above its threshold settles the decision by itself.
func (f Fusion) NeedsClassifier(router *RouterResult) bool {
	return router == nil || router.Confidence < f.RouterThreshold
}

// Decide picks the final intent. Precedence: router above its threshold,
// then classifier above its own, then the designated fallback intent.
func (f Fusion) Decide(router *RouterResult, clf *classifier.Result) Decision {
	if router != nil && router.Confidence >= f.RouterThreshold {
		return Decision{
			Intent:     router.Intent,
			Confidence: router.Confidence,
			Entities:   router.Entities,
			Source:     SourcePattern,
		}
	}
	if clf != nil && clf.Intent != "" && clf.Confidence >= f.ClassifierThreshold {
		return Decision{
			Intent:     clf.Intent,
			Confidence: clf.Confidence,
			Entities:   clf.Entities,
			Source:     SourceClassifier,
		}
	}
	return Decision{
		Intent:       f.FallbackIntent,
		Source:       SourceFallback,
		FallbackUsed: true,
	}
}
