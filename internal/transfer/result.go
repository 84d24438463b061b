package transfer

import (
	"fmt"
	"math"
)

// BatchResult aggregates the outcomes of one batch. Order within each list
// follows completion order. Causes[i] describes Failed[i].
type BatchResult struct {
	ID         string   `json:"batch_id,omitempty"`
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
	Causes     []string `json:"causes"`
}

// NewBatchResult builds a result from already-resolved lists. The lists are
// copied and never nil, so the result serialises [] rather than null. Causes
// gets one empty entry per failed item.
func NewBatchResult(successful, failed []string) *BatchResult {
	return &BatchResult{
		Successful: append([]string{}, successful...),
		Failed:     append([]string{}, failed...),
		Causes:     make([]string, len(failed)),
	}
}

func (r *BatchResult) add(o Outcome) {
	if o.Succeeded() {
		r.Successful = append(r.Successful, o.Identifier())

		return
	}

	r.Failed = append(r.Failed, o.Identifier())
	r.Causes = append(r.Causes, o.Err.Error())
}

func (r *BatchResult) IsCompleteSuccess() bool {
	return len(r.Failed) == 0
}

func (r *BatchResult) HasSuccess() bool {
	return len(r.Successful) > 0
}

func (r *BatchResult) HasFailures() bool {
	return len(r.Failed) > 0
}

func (r *BatchResult) TotalCount() int {
	return len(r.Successful) + len(r.Failed)
}

// SuccessRate is the fraction of successful items, 0.0 for an empty batch.
func (r *BatchResult) SuccessRate() float64 {
	total := r.TotalCount()
	if total == 0 {
		return 0.0
	}

	return float64(len(r.Successful)) / float64(total)
}

// RoundedSuccessRate rounds SuccessRate to four decimal places for display.
func (r *BatchResult) RoundedSuccessRate() float64 {
	return math.Round(r.SuccessRate()*10000) / 10000
}

func (r *BatchResult) String() string {
	return fmt.Sprintf("%d successful, %d failed", len(r.Successful), len(r.Failed))
}
