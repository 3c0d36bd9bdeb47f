package assistant

import "fmt"

func monthlyReportPrompt(period string) string {
	return fmt.Sprintf("Here is a concise data summary of my spending for %s.\n\n"+
		"As a friendly financial advisor, write a clear, well-structured report in 3-4 paragraphs based on that data. "+
		"Start with an overview of my total spend, then discuss any notable high-spend days, "+
		"mention which merchants took the biggest share of my budget, "+
		"briefly describe the types of items I purchased, "+
		"and finish with one or two actionable insights for next month.", period)
}

func marketSummaryPrompt(date string) string {
	return fmt.Sprintf("You are a financial news analyst. Market summary for %s.\n"+
		"Based on the index closes and changes in the data below, write a clear, engaging paragraph "+
		"summarizing recent US equity market performance. Mention direction and contextual insight. "+
		"Do not invent figures that are not in the data.", date)
}

func freeFormPrompt(question string) string {
	return "Answer my question about my personal spending using only the purchase data below. " +
		"Include relevant amounts. If the data cannot answer the question, say so. " +
		"Decline requests unrelated to personal finance.\n\n" +
		"Question: " + question
}

const (
	emptyQuestionAnswer = "I didn't receive a question. Ask me something about your spending, " +
		"for example \"How much did I spend at Target last month?\""

	emptyStoreAnswer = "I don't have any purchases yet. Upload some receipts first and then ask me again."
)
