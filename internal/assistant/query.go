package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/insights"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// maxListedPurchases bounds how many purchases are sent to the reasoner with a question.
const maxListedPurchases = 50

// Answer is the output of the free-form-query task.
type Answer struct {
	Question string             `json:"question"`
	Text     string             `json:"text"`
	Insights *insights.Insights `json:"insights,omitempty"`
}

// QueryHandler answers natural-language questions about stored purchases.
type QueryHandler struct {
	store    store.PurchaseStore
	reasoner Reasoner
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(st store.PurchaseStore, reasoner Reasoner) *QueryHandler {
	return &QueryHandler{store: st, reasoner: reasoner}
}

type purchaseLine struct {
	ID       string   `json:"id"`
	Merchant string   `json:"merchant"`
	Date     string   `json:"date,omitempty"`
	Total    string   `json:"total"`
	Currency string   `json:"currency"`
	Items    []string `json:"items,omitempty"`
}

// Handle implements Handler.
func (h *QueryHandler) Handle(ctx context.Context, req Request) (*Result, error) {
	question := strings.TrimSpace(req.Question)
	answer := &Answer{Question: question}
	result := &Result{Kind: KindFreeFormQuery, Answer: answer}

	if question == "" {
		answer.Text = emptyQuestionAnswer
		return result, nil
	}

	purchases, err := store.Collect(h.store.Query(ctx, store.Filter{}))
	if err != nil {
		return nil, fmt.Errorf("QueryHandler: %w", err)
	}
	if len(purchases) == 0 {
		answer.Text = emptyStoreAnswer
		return result, nil
	}

	answer.Insights = insights.Summarize(purchases, insights.Options{TopN: 5})

	text, err := h.reasoner.Complete(ctx, freeFormPrompt(question), map[string]any{
		"insights":  answer.Insights,
		"purchases": recentLines(purchases, maxListedPurchases),
	})
	if err != nil {
		result.degrade(fmt.Sprintf("answer unavailable: %v", err))
		return result, nil
	}
	answer.Text = text
	return result, nil
}

// recentLines renders the last n purchases in insertion order.
func recentLines(purchases []*domain.Purchase, n int) []purchaseLine {
	if len(purchases) > n {
		purchases = purchases[len(purchases)-n:]
	}

	out := make([]purchaseLine, 0, len(purchases))
	for _, p := range purchases {
		line := purchaseLine{
			ID:       p.ID,
			Merchant: p.Merchant,
			Total:    p.Total.StringFixed(2),
			Currency: p.Currency,
		}
		if p.Date != nil {
			line.Date = p.Date.String()
		}
		for _, it := range p.Items {
			line.Items = append(line.Items, fmt.Sprintf("%s (%s) %s", it.Name, it.Category, it.LineTotal.StringFixed(2)))
		}
		out = append(out, line)
	}
	return out
}
