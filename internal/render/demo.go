package render

import "marketwatch/internal/market"

// DemoChanges is a fixed change set covering every card kind, used by the
// demo command to preview the output without touching the market.
func DemoChanges() []market.Change {
	return []market.Change{
		{Kind: market.KindRemoved, Name: "koishi-plugin-test3"},
		{
			Kind:        market.KindAdded,
			Name:        "koishi-plugin-test",
			Version:     "1.0.0",
			Publisher:   "test",
			Description: "**Test plugin**\nSee [docs](https://koishi.chat) and `npm i koishi-plugin-test`.",
		},
		{Kind: market.KindUpdated, Name: "koishi-plugin-test2", OldVersion: "1.0.0", NewVersion: "2.0.0"},
	}
}
