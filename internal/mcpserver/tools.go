package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Sentra MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzePayment = mcp.NewTool("analyze_payment",
	mcp.WithDescription(
		"Score a peer-to-peer payment for fraud risk before sending it. "+
			"Returns a risk score between 0 and 1, a LOW/MEDIUM/HIGH category, the contributing factors, "+
			"and whether the payment would be blocked. Nothing is sent or recorded."),
	mcp.WithString("destination",
		mcp.Required(),
		mcp.Description("Payment address of the receiver (e.g. 'shop@bank')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to send (e.g. '250.00')")),
	mcp.WithString("note",
		mcp.Description("Optional payment note")),
)

var ToolResolveReceiver = mcp.NewTool("resolve_receiver",
	mcp.WithDescription(
		"Look up who owns a payment address. "+
			"Shows the registered name, bank, verification status and reputation. "+
			"Use this to confirm the receiver is who the user expects."),
	mcp.WithString("destination",
		mcp.Required(),
		mcp.Description("Payment address to look up")),
)

var ToolStartPayment = mcp.NewTool("start_payment",
	mcp.WithDescription(
		"Start a payment: resolves the receiver, scores the risk and opens a payment attempt. "+
			"High-risk payments are blocked immediately. Otherwise the attempt waits for confirm_payment or cancel_payment."),
	mcp.WithString("destination",
		mcp.Required(),
		mcp.Description("Payment address of the receiver")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to send (e.g. '250.00')")),
	mcp.WithString("note",
		mcp.Description("Optional payment note")),
)

var ToolConfirmPayment = mcp.NewTool("confirm_payment",
	mcp.WithDescription(
		"Confirm an open payment attempt and record it in the transaction history. "+
			"Only confirm a warned payment after the user has acknowledged the risk."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment ID returned by start_payment")),
)

var ToolCancelPayment = mcp.NewTool("cancel_payment",
	mcp.WithDescription("Cancel an open payment attempt. Nothing is sent."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment ID returned by start_payment")),
)

var ToolReportFraud = mcp.NewTool("report_fraud",
	mcp.WithDescription(
		"Report a payment address as fraudulent. "+
			"Every later payment to it is blocked, and any open payment to it is blocked right away."),
	mcp.WithString("destination",
		mcp.Required(),
		mcp.Description("Payment address to report")),
)

var ToolListReported = mcp.NewTool("list_reported",
	mcp.WithDescription("List the payment addresses the user has reported as fraudulent."),
)

var ToolGetTrustScore = mcp.NewTool("get_trust_score",
	mcp.WithDescription(
		"Get the user's trust score (0-100) and tier (Bronze/Silver/Gold/Platinum). "+
			"The score is the share of recent transactions that were low risk."),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription("List the user's most recent transactions with their risk assessment."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 10)")),
)
