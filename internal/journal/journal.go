// Package journal persists every execution attempt as an append-only
// JSON-lines file: one record per line, written in arrival order, never
// rewritten. It is the engine's only persisted trade history — no
// database, per spec.md's scope.
package journal

import (
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one journaled record: a trade execution, a risk-gate
// rejection, or a standalone opportunity sighting that the risk gate
// never attempted.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // "opportunity", "execution", "rejection"
	PathID    string    `json:"path_id"`

	Stake            float64 `json:"stake,omitempty"`
	NetProfitRate    float64 `json:"net_profit_rate,omitempty"`
	ActualProfit     float64 `json:"actual_profit,omitempty"`
	ActualProfitRate float64 `json:"actual_profit_rate,omitempty"`
	Success          bool    `json:"success,omitempty"`
	FailedLeg        int     `json:"failed_leg,omitempty"`
	RejectReason     string  `json:"reject_reason,omitempty"`
	Err              string  `json:"error,omitempty"`

	Legs []LegEntry `json:"legs,omitempty"`
}

// LegEntry is one leg's realized result, flattened for the log line.
type LegEntry struct {
	Pair         string             `json:"pair"`
	Action       models.PathAction  `json:"action"`
	RequestedQty float64            `json:"requested_qty"`
	FilledQty    float64            `json:"filled_qty"`
	AvgFillPrice float64            `json:"avg_fill_price"`
	Status       models.OrderStatus `json:"status"`
}

// Journal is a single append-only writer, safe for concurrent use
// (though the engine's single-in-flight-execution discipline means
// writes are naturally serialized in practice).
type Journal struct {
	mu  sync.Mutex
	f   *os.File
	log *utils.Logger
}

// Open appends to (creating if needed) the JSON-lines file at path.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f, log: utils.L().WithComponent("journal")}, nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// WriteOpportunity records an opportunity the evaluator found, whether
// or not it was ever handed to the risk gate.
func (j *Journal) WriteOpportunity(opp models.Opportunity) {
	j.write(Entry{
		Timestamp:     opp.EvaluatedAt,
		Kind:          "opportunity",
		PathID:        opp.Path.ID,
		Stake:         opp.MaxStake,
		NetProfitRate: opp.NetProfitRate,
	})
}

// WriteRejection records a risk gate decision that declined to trade.
func (j *Journal) WriteRejection(decision models.RiskDecision, now time.Time) {
	j.write(Entry{
		Timestamp:    now,
		Kind:         "rejection",
		PathID:       decision.Opportunity.Path.ID,
		RejectReason: decision.Reason,
	})
}

// WriteExecution records a completed execution attempt, successful or not.
func (j *Journal) WriteExecution(result models.ExecutionResult) {
	entry := Entry{
		Timestamp:        result.FinishedAt,
		Kind:             "execution",
		PathID:           result.Opportunity.Path.ID,
		Stake:            result.Stake,
		ActualProfit:     result.ActualProfit,
		ActualProfitRate: result.ActualProfitRate,
		Success:          result.Success,
		FailedLeg:        result.FailedLeg,
	}
	if result.Err != nil {
		entry.Err = result.Err.Error()
	}
	for _, leg := range result.Legs {
		entry.Legs = append(entry.Legs, LegEntry{
			Pair:         leg.Step.Pair.Symbol,
			Action:       leg.Step.Action,
			RequestedQty: leg.RequestedSize,
			FilledQty:    leg.FilledSize,
			AvgFillPrice: leg.AvgFillPrice,
			Status:       leg.Status,
		})
	}
	j.write(entry)
}

func (j *Journal) write(entry Entry) {
	line, err := json.Marshal(entry)
	if err != nil {
		j.log.Error("failed to marshal journal entry", utils.Err(err))
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(line); err != nil {
		j.log.Error("failed to append journal entry", utils.Err(err))
	}
}
