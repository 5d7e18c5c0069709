package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GuardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessTransaction previews the score and plan of a transaction.
func (h *Handlers) HandleAssessTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, err := transactionFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := h.client.Assess(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess transaction: %v", err)), nil
	}

	text, err := formatPreview(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleProtectTransaction runs a transaction through protection and execution.
func (h *Handlers) HandleProtectTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, err := transactionFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tx.ID = req.GetString("id", "")

	raw, err := h.client.Protect(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to protect transaction: %v", err)), nil
	}

	text, err := formatOutcome(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse outcome: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetJourney returns the history of one journey.
func (h *Handlers) HandleGetJourney(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txID := req.GetString("tx_id", "")
	if txID == "" {
		return mcp.NewToolResultError("tx_id is required"), nil
	}

	raw, err := h.client.GetJourney(ctx, txID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get journey: %v", err)), nil
	}

	var j journeyView
	if err := json.Unmarshal(raw, &j); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse journey: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJourney(j)), nil
}

// HandleListJourneys lists archived journeys.
func (h *Handlers) HandleListJourneys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := req.GetString("state", "")
	limit := req.GetInt("limit", 20)
	cursor := req.GetString("cursor", "")

	raw, err := h.client.ListJourneys(ctx, state, limit, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list journeys: %v", err)), nil
	}

	var resp struct {
		Journeys   []journeyView `json:"journeys"`
		Count      int           `json:"count"`
		NextCursor string        `json:"nextCursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse journeys: %v", err)), nil
	}
	if len(resp.Journeys) == 0 {
		return mcp.NewToolResultText("No journeys found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d journey(s):\n\n", resp.Count)
	for i, j := range resp.Journeys {
		fmt.Fprintf(&sb, "%d. %s  %s", i+1, j.TxID, j.State)
		if j.Level != "" {
			fmt.Fprintf(&sb, "  level=%s", j.Level)
		}
		if kind := j.failureKind(); kind != "" {
			fmt.Fprintf(&sb, "  failure=%s", kind)
		}
		sb.WriteString("\n")
	}
	if resp.NextCursor != "" {
		fmt.Fprintf(&sb, "\nMore journeys available. Call again with cursor=%s\n", resp.NextCursor)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetPool returns the current pool snapshot.
func (h *Handlers) HandleGetPool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPool(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pool: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// ============================================================
// Formatting
// ============================================================

func transactionFrom(req mcp.CallToolRequest) (TransactionArgs, error) {
	tx := TransactionArgs{
		From:     req.GetString("from", ""),
		To:       req.GetString("to", ""),
		Value:    req.GetString("value", ""),
		GasPrice: req.GetString("gas_price", ""),
		Payload:  req.GetString("payload", ""),
	}
	var missing []string
	if tx.To == "" {
		missing = append(missing, "to")
	}
	if tx.Value == "" {
		missing = append(missing, "value")
	}
	if tx.GasPrice == "" {
		missing = append(missing, "gas_price")
	}
	if len(missing) > 0 {
		return tx, fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return tx, nil
}

type assessmentView struct {
	Score      float64            `json:"score"`
	Margin     float64            `json:"margin"`
	Level      string             `json:"level"`
	Factors    map[string]float64 `json:"factors"`
	Congestion float64            `json:"congestion"`
	Attacks    []string           `json:"attacks"`
}

type planView struct {
	Measures []string `json:"measures"`
}

type transitionView struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Cause string `json:"cause"`
	Kind  string `json:"kind"`
}

type journeyView struct {
	TxID    string           `json:"txId"`
	State   string           `json:"state"`
	Level   string           `json:"level"`
	History []transitionView `json:"history"`
}

func (j journeyView) failureKind() string {
	if j.State != "failed" || len(j.History) == 0 {
		return ""
	}
	return j.History[len(j.History)-1].Kind
}

func formatPreview(raw json.RawMessage) (string, error) {
	var p struct {
		Assessment assessmentView `json:"assessment"`
		Plan       planView       `json:"plan"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}

	var sb strings.Builder
	writeAssessment(&sb, p.Assessment)
	writePlan(&sb, p.Plan)
	return sb.String(), nil
}

func formatOutcome(raw json.RawMessage) (string, error) {
	var o struct {
		Journey    journeyView     `json:"journey"`
		Assessment *assessmentView `json:"assessment"`
		Plan       *planView       `json:"plan"`
		Intent     *struct {
			Route    string `json:"route"`
			RelayURL string `json:"relayUrl"`
			Ordering string `json:"ordering"`
		} `json:"intent"`
		Result *struct {
			TxHash      string `json:"txHash"`
			BlockNumber uint64 `json:"blockNumber"`
		} `json:"result"`
		Failure *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"failure"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: %s\n", o.Journey.TxID)
	fmt.Fprintf(&sb, "Final state: %s\n", o.Journey.State)
	if o.Failure != nil {
		fmt.Fprintf(&sb, "Failure: %s (%s)\n", o.Failure.Kind, o.Failure.Message)
	}
	if o.Assessment != nil {
		sb.WriteString("\n")
		writeAssessment(&sb, *o.Assessment)
	}
	if o.Plan != nil {
		writePlan(&sb, *o.Plan)
	}
	if o.Intent != nil {
		fmt.Fprintf(&sb, "Route: %s", o.Intent.Route)
		if o.Intent.RelayURL != "" {
			fmt.Fprintf(&sb, " via %s", o.Intent.RelayURL)
		}
		fmt.Fprintf(&sb, ", ordering %s\n", o.Intent.Ordering)
	}
	if o.Result != nil {
		fmt.Fprintf(&sb, "Included: %s in block %d\n", o.Result.TxHash, o.Result.BlockNumber)
	}
	return sb.String(), nil
}

func formatJourney(j journeyView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: %s\n", j.TxID)
	fmt.Fprintf(&sb, "State: %s\n", j.State)
	if j.Level != "" {
		fmt.Fprintf(&sb, "Security level: %s\n", j.Level)
	}
	sb.WriteString("\nHistory:\n")
	for i, tr := range j.History {
		from := tr.From
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(&sb, "  %d. %s -> %s: %s", i+1, from, tr.To, tr.Cause)
		if tr.Kind != "" {
			fmt.Fprintf(&sb, " [%s]", tr.Kind)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeAssessment(sb *strings.Builder, a assessmentView) {
	fmt.Fprintf(sb, "Security level: %s\n", a.Level)
	fmt.Fprintf(sb, "Vulnerability score: %.3f (margin %.3f)\n", a.Score, a.Margin)
	fmt.Fprintf(sb, "Pool congestion: %.2f\n", a.Congestion)
	if len(a.Attacks) > 0 {
		fmt.Fprintf(sb, "Likely attacks: %s\n", strings.Join(a.Attacks, ", "))
	}
}

func writePlan(sb *strings.Builder, p planView) {
	if len(p.Measures) == 0 {
		sb.WriteString("Protection: none needed\n")
		return
	}
	fmt.Fprintf(sb, "Protection: %s\n", strings.Join(p.Measures, ", "))
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
