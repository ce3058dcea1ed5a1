package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/aigate/pkg/models"
)

func formatAccount(a models.CreditAccount) string {
	return fmt.Sprintf("Credits for %s\n"+
		"  Monthly:   %d\n"+
		"  Bonus:     %d\n"+
		"  Purchased: %d\n"+
		"  Total:     %d\n",
		a.UserID, a.MonthlyCredits, a.BonusCredits, a.PurchasedCredits, a.TotalCredits)
}

func formatTransactions(txs []models.CreditTransaction) string {
	if len(txs) == 0 {
		return "No transactions found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %8s %8s %-16s %s\n", "Time", "Amount", "Balance", "Feature", "Description")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, tx := range txs {
		fmt.Fprintf(&b, "%-20s %+8d %8d %-16s %s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Amount, tx.BalanceAfter, tx.Feature, tx.Description)
	}
	return b.String()
}

func formatUsage(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-16s %-12s %8s %8s\n", "User", "Feature", "Provider", "Requests", "Credits")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %-16s %-12s %8d %8d\n", r.UserID, r.Feature, r.Provider, r.RequestCount, r.TotalCredits)
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n  Entries: %d\n  Hits:    %d\n", stats.TotalEntries, stats.TotalHits)
	if len(stats.ByFeature) == 0 {
		return b.String()
	}
	features := make([]string, 0, len(stats.ByFeature))
	for f := range stats.ByFeature {
		features = append(features, f)
	}
	sort.Strings(features)

	fmt.Fprintf(&b, "\n%-16s %8s %8s %8s\n", "Feature", "Entries", "Hits", "Expired")
	for _, f := range features {
		s := stats.ByFeature[f]
		fmt.Fprintf(&b, "%-16s %8d %8d %8d\n", f, s.Count, s.Hits, s.ExpiredCount)
	}
	return b.String()
}

func formatCosts(costs []models.FeatureCost) string {
	if len(costs) == 0 {
		return "No feature costs stored; config defaults apply."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %6s\n", "Feature", "Cost")
	for _, c := range costs {
		fmt.Fprintf(&b, "%-20s %6d\n", c.FeatureSlug, c.CreditCost)
	}
	return b.String()
}
