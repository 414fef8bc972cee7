package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentraClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentraClient) *Handlers {
	return &Handlers{client: client}
}

// paymentArgs reads and checks the destination/amount/note arguments.
func paymentArgs(req mcp.CallToolRequest) (dest, amount, note string, errResult *mcp.CallToolResult) {
	dest = strings.TrimSpace(req.GetString("destination", ""))
	if dest == "" {
		return "", "", "", mcp.NewToolResultError("destination is required")
	}
	amount = strings.TrimSpace(req.GetString("amount", ""))
	if amount == "" {
		return "", "", "", mcp.NewToolResultError("amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return "", "", "", mcp.NewToolResultError("amount must be a positive number")
	}
	return dest, d.String(), req.GetString("note", ""), nil
}

// HandleAnalyzePayment scores a payment without starting it.
func (h *Handlers) HandleAnalyzePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest, amount, note, bad := paymentArgs(req)
	if bad != nil {
		return bad, nil
	}

	raw, err := h.client.AnalyzePayment(ctx, dest, amount, note)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze payment: %v", err)), nil
	}

	text, err := formatVerdict(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleResolveReceiver looks up a destination's owner.
func (h *Handlers) HandleResolveReceiver(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest := strings.TrimSpace(req.GetString("destination", ""))
	if dest == "" {
		return mcp.NewToolResultError("destination is required"), nil
	}

	raw, err := h.client.ResolveReceiver(ctx, dest)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve receiver: %v", err)), nil
	}

	text, err := formatReceiver(dest, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse receiver: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleStartPayment opens a payment attempt.
func (h *Handlers) HandleStartPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest, amount, note, bad := paymentArgs(req)
	if bad != nil {
		return bad, nil
	}

	raw, err := h.client.StartPayment(ctx, dest, amount, note)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}
	return paymentResult(raw)
}

// HandleConfirmPayment confirms an open attempt.
func (h *Handlers) HandleConfirmPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("payment_id", "")
	if id == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.ConfirmPayment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Confirm failed: %v", err)), nil
	}
	return paymentResult(raw)
}

// HandleCancelPayment cancels an open attempt.
func (h *Handlers) HandleCancelPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("payment_id", "")
	if id == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.CancelPayment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Cancel failed: %v", err)), nil
	}
	return paymentResult(raw)
}

// HandleReportFraud reports a destination.
func (h *Handlers) HandleReportFraud(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest := strings.TrimSpace(req.GetString("destination", ""))
	if dest == "" {
		return mcp.NewToolResultError("destination is required"), nil
	}

	raw, err := h.client.ReportFraud(ctx, dest)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Report failed: %v", err)), nil
	}

	var resp struct {
		NewlyReported bool `json:"newlyReported"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}
	if !resp.NewlyReported {
		return mcp.NewToolResultText(fmt.Sprintf("%s was already reported. Payments to it stay blocked.", dest)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Reported %s as fraudulent.\n"+
			"Future payments to it will be blocked, and any open payment to it has been blocked.", dest)), nil
}

// HandleListReported lists the caller's reported destinations.
func (h *Handlers) HandleListReported(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListReported(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list reports: %v", err)), nil
	}

	var resp struct {
		Destinations []string `json:"destinations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reports: %v", err)), nil
	}
	if len(resp.Destinations) == 0 {
		return mcp.NewToolResultText("No destinations reported."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Reported destinations (%d):\n", len(resp.Destinations))
	for _, d := range resp.Destinations {
		fmt.Fprintf(&sb, "  - %s\n", d)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetTrustScore returns the caller's trust score.
func (h *Handlers) HandleGetTrustScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetTrustScore(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trust score: %v", err)), nil
	}

	text, err := formatTrust(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trust score: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListTransactions lists recent transactions.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	raw, err := h.client.ListTransactions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func paymentResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	text, err := formatPayment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func unwrap(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	m, ok := resp[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("no %s in response", key)
	}
	return m, nil
}

func formatVerdict(raw json.RawMessage) (string, error) {
	v, err := unwrap(raw, "verdict")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	writeVerdict(&sb, v)
	return sb.String(), nil
}

func writeVerdict(sb *strings.Builder, v map[string]any) {
	res, _ := v["result"].(map[string]any)
	score, _ := getFloat(res, "score")
	fmt.Fprintf(sb, "Risk: %s (score %.2f)\n", getString(res, "category"), score)
	fmt.Fprintf(sb, "Decision: %s\n", getString(v, "decision"))
	if p := getString(v, "provenance"); p != "" {
		fmt.Fprintf(sb, "Scored by: %s\n", p)
	}
	if factors, ok := res["factors"].([]any); ok && len(factors) > 0 {
		sb.WriteString("Factors:\n")
		for _, f := range factors {
			if s, ok := f.(string); ok {
				fmt.Fprintf(sb, "  - %s\n", s)
			}
		}
	}
}

func formatReceiver(dest string, raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	r, ok := resp["receiver"].(map[string]any)
	if !ok {
		return fmt.Sprintf("No registered owner found for %s. Treat this receiver as unknown.", dest), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Receiver: %s\n", getString(r, "name"))
	fmt.Fprintf(&sb, "  Destination: %s\n", getString(r, "destination"))
	if b := getString(r, "bank"); b != "" {
		fmt.Fprintf(&sb, "  Bank: %s\n", b)
	}
	verified, _ := r["verified"].(bool)
	fmt.Fprintf(&sb, "  Verified: %t\n", verified)
	if rep, ok := getFloat(r, "reputation"); ok {
		fmt.Fprintf(&sb, "  Reputation: %.2f\n", rep)
	}
	return sb.String(), nil
}

func formatPayment(raw json.RawMessage) (string, error) {
	p, err := unwrap(raw, "payment")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment %s\n", getString(p, "id"))
	fmt.Fprintf(&sb, "  To: %s\n", getString(p, "destination"))
	fmt.Fprintf(&sb, "  Amount: %s\n", getString(p, "amount"))
	state := getString(p, "state")
	fmt.Fprintf(&sb, "  State: %s\n", state)
	if v, ok := p["verdict"].(map[string]any); ok {
		writeVerdict(&sb, v)
	}
	switch state {
	case "warned":
		sb.WriteString("\nThis payment carries elevated risk. Confirm only if the user accepts it.")
	case "allowed":
		sb.WriteString("\nUse confirm_payment to send it or cancel_payment to abandon it.")
	case "blocked":
		sb.WriteString("\nThis payment was blocked and cannot be sent.")
	}
	return sb.String(), nil
}

func formatTrust(raw json.RawMessage) (string, error) {
	t, err := unwrap(raw, "trust")
	if err != nil {
		return "", err
	}
	score, _ := getFloat(t, "score")
	safe, _ := getFloat(t, "safe")
	total, _ := getFloat(t, "total")

	var sb strings.Builder
	sb.WriteString("Trust Score:\n")
	fmt.Fprintf(&sb, "  Score: %.0f / 100\n", score)
	fmt.Fprintf(&sb, "  Tier: %s\n", getString(t, "tier"))
	fmt.Fprintf(&sb, "  Low-risk transactions: %.0f of %.0f\n", safe, total)
	return sb.String(), nil
}

func formatTransactions(raw json.RawMessage) (string, error) {
	var resp struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Transactions) == 0 {
		return "No transactions yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(resp.Transactions))
	for i, tx := range resp.Transactions {
		score, _ := getFloat(tx, "riskScore")
		status := "sent"
		if blocked, _ := tx["blocked"].(bool); blocked {
			status = "blocked"
		}
		fmt.Fprintf(&sb, "%d. %s to %s (%s)\n", i+1, getString(tx, "amount"), getString(tx, "recipient"), status)
		fmt.Fprintf(&sb, "   Risk: %s (%.2f) | %s\n", getString(tx, "riskCategory"), score, getString(tx, "timestamp"))
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
