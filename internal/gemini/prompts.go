package gemini

import "strings"

const extractionPrompt = "You are a receipt analyzer. Read the attached receipt image.\n\n" +
	"Task:\n" +
	"- Transcribe the receipt text line by line into \"raw_text\".\n" +
	"- Extract structured data into \"fields\".\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n" +
	"The \"fields\" object must have these keys (use null when unknown, never empty strings):\n" +
	"- \"merchant_name\": string, the business where the purchase occurred\n" +
	"- \"transaction_date\": string, ISO format \"YYYY-MM-DD\" when possible\n" +
	"- \"total_amount\": number, the final amount paid after tax\n" +
	"- \"currency\": string, three-letter code (e.g. \"USD\")\n" +
	"- \"items\": array of objects with \"name\" (string), \"price\" (number, unit price),\n" +
	"  \"quantity\" (number, default 1), \"line_total\" (number or null), \"category\" (string or null)\n" +
	"- \"tax_information\": object with \"sales_tax\" and \"tax_rate\" (numbers or null)\n" +
	"- \"payment_method\": string or null\n\n" +
	"Rules:\n" +
	"- Strip currency symbols from numbers.\n" +
	"- When both pre-tax and post-tax totals are printed, use the post-tax total.\n" +
	"- Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

const analystInstruction = "You are a friendly financial analyst assistant. " +
	"Only use the figures provided in the data section. " +
	"Never invent purchases, merchants or amounts."

// cleanModelJSON strips Markdown fences and surrounding prose from a JSON object reply.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
