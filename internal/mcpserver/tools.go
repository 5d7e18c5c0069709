package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the mevguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

func transactionParams(extra ...mcp.ToolOption) []mcp.ToolOption {
	opts := []mcp.ToolOption{
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Target contract or recipient address (e.g. '0x7a25...')")),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Transferred value as a base-10 integer in the chain's smallest unit")),
		mcp.WithString("gas_price",
			mcp.Required(),
			mcp.Description("Offered gas price as a base-10 integer, same unit as the pool average")),
		mcp.WithString("payload",
			mcp.Description("Call data as 0x-prefixed hex. The first 4 bytes select the function.")),
		mcp.WithString("from",
			mcp.Description("Sender address (informational)")),
	}
	return append(opts, extra...)
}

var ToolAssessTransaction = mcp.NewTool("assess_transaction",
	append([]mcp.ToolOption{
		mcp.WithDescription(
			"Score a pending transaction's exposure to MEV (front-running, sandwiching, back-running) " +
				"against the current mempool and show the protection plan it would receive. " +
				"Nothing is submitted; use this to preview before protect_transaction."),
	}, transactionParams()...)...,
)

var ToolProtectTransaction = mcp.NewTool("protect_transaction",
	append([]mcp.ToolOption{
		mcp.WithDescription(
			"Protect and submit a transaction: assess it, apply the selected measures " +
				"(private relay routing, ordering barrier, delay, flashloan shield) and hand it to execution. " +
				"Returns the final journey state. Each transaction ID can be protected only once."),
	}, transactionParams(
		mcp.WithString("id",
			mcp.Description("Transaction UUID. Generated by the server when omitted.")),
	)...)...,
)

var ToolGetJourney = mcp.NewTool("get_journey",
	mcp.WithDescription(
		"Get the protection journey of a transaction: every state it passed through, "+
			"its security level, and why it failed if it did."),
	mcp.WithString("tx_id",
		mcp.Required(),
		mcp.Description("Transaction UUID returned by protect_transaction")),
)

var ToolListJourneys = mcp.NewTool("list_journeys",
	mcp.WithDescription(
		"List recent protection journeys, newest first. Optionally filter by final state."),
	mcp.WithString("state",
		mcp.Description("Filter by final state"),
		mcp.Enum("completed", "failed")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of journeys to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Continue from a previous call's cursor to fetch older journeys")),
)

var ToolGetPool = mcp.NewTool("get_pool",
	mcp.WithDescription(
		"Get the current mempool snapshot used for scoring: congestion, average gas price, "+
			"and recent arbitrage activity per target contract."),
)
