package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestsTotal_CountsByLabels(t *testing.T) {
	c := RequestsTotal.WithLabelValues("chat_completions", "gpt4o", "200")
	before := testutil.ToFloat64(c)
	c.Inc()
	c.Inc()
	if got := testutil.ToFloat64(c); got != before+2 {
		t.Errorf("counter = %v, want %v", got, before+2)
	}
}

func TestTokensTotal_SeparatesDirections(t *testing.T) {
	prompt := TokensTotal.WithLabelValues("prompt", "gpt4o")
	completion := TokensTotal.WithLabelValues("completion", "gpt4o")
	pBefore, cBefore := testutil.ToFloat64(prompt), testutil.ToFloat64(completion)

	prompt.Add(11)
	completion.Add(7)

	if got := testutil.ToFloat64(prompt); got != pBefore+11 {
		t.Errorf("prompt tokens = %v, want %v", got, pBefore+11)
	}
	if got := testutil.ToFloat64(completion); got != cBefore+7 {
		t.Errorf("completion tokens = %v, want %v", got, cBefore+7)
	}
}

func TestActiveStreams_GaugeMoves(t *testing.T) {
	before := testutil.ToFloat64(ActiveStreams)
	ActiveStreams.Inc()
	if got := testutil.ToFloat64(ActiveStreams); got != before+1 {
		t.Errorf("gauge after Inc = %v, want %v", got, before+1)
	}
	ActiveStreams.Dec()
	if got := testutil.ToFloat64(ActiveStreams); got != before {
		t.Errorf("gauge after Dec = %v, want %v", got, before)
	}
}

func TestRequestDuration_Exposition(t *testing.T) {
	RequestDuration.WithLabelValues("chat_completions").Observe(0.042)

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "argoproxy_request_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Errorf("duration histogram not in the default registry")
	}
}
