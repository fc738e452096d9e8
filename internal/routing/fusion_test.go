package routing

import (
	"testing"

	"github.com/schooldesk/assistant/internal/classifier"
	"github.com/stretchr/testify/require"
)

func TestFusionRouterAboveThresholdWins(t *testing.T) {
	f := NewFusion(0.6, 0.75, "unhandled")

	router := &RouterResult{Intent: "greeting", Confidence: 0.85, Entities: map[string]string{"k": "v"}}
	clf := &classifier.Result{Intent: "farewell", Confidence: 0.99}

	d := f.Decide(router, clf)
	require.Equal(t, "greeting", d.Intent)
	require.Equal(t, SourcePattern, d.Source)
	require.False(t, d.FallbackUsed)
	require.Equal(t, "v", d.Entities["k"])
}

func TestFusionClassifierNotConsultedOnStrongRouterMatch(t *testing.T) {
	f := NewFusion(0.6, 0.75, "unhandled")

	require.False(t, f.NeedsClassifier(&RouterResult{Confidence: 0.6}))
	require.True(t, f.NeedsClassifier(&RouterResult{Confidence: 0.59}))
	require.True(t, f.NeedsClassifier(nil))
}

func TestFusionClassifierWinsWhenRouterWeak(t *testing.T) {
	f := NewFusion(0.6, 0.75, "unhandled")

	router := &RouterResult{Intent: "greeting", Confidence: 0.4}
	clf := &classifier.Result{Intent: "fees_pay", Confidence: 0.8}

	d := f.Decide(router, clf)
	require.Equal(t, "fees_pay", d.Intent)
	require.Equal(t, SourceClassifier, d.Source)
	require.False(t, d.FallbackUsed)
}

func TestFusionFallback(t *testing.T) {
	f := NewFusion(0.6, 0.75, "unhandled")

	cases := []struct {
		name   string
		router *RouterResult
		clf    *classifier.Result
	}{
		{"both nil", nil, nil},
		{"both weak", &RouterResult{Intent: "a", Confidence: 0.3},
			&classifier.Result{Intent: "b", Confidence: 0.5}},
		{"classifier empty intent", nil, &classifier.Result{Intent: "", Confidence: 0.99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := f.Decide(tc.router, tc.clf)
			require.Equal(t, "unhandled", d.Intent)
			require.Equal(t, SourceFallback, d.Source)
			require.True(t, d.FallbackUsed)
		})
	}
}

func TestFusionDefaultsEmptyFallbackIntent(t *testing.T) {
	f := NewFusion(0.6, 0.75, "")
	d := f.Decide(nil, nil)
	require.Equal(t, "unhandled", d.Intent)
}
