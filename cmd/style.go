package main

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/feedchain/ledger"
)

func statusLabel(s ledger.Status) string {
	switch s {
	case ledger.StatusMining:
		return pterm.LightYellow(s.String())
	case ledger.StatusSyncing:
		return pterm.LightCyan(s.String())
	case ledger.StatusSynced:
		return pterm.LightGreen(s.String())
	case ledger.StatusError:
		return pterm.LightRed(s.String())
	default:
		return pterm.Gray(s.String())
	}
}

func onlineLabel(online bool) string {
	if online {
		return pterm.LightGreen("online")
	}
	return pterm.LightRed("offline")
}

// postSummary renders a post on one line of at most limit runes.
func postSummary(p ledger.Post, limit int) string {
	text := p.Content
	if p.Kind != ledger.KindText {
		name := "untitled"
		var size uint64
		if p.MediaInfo != nil {
			name = p.MediaInfo.Name
			size = p.MediaInfo.SizeBytes
		}
		text = "[" + string(p.Kind) + "] " + name + " (" + humanize.Bytes(size) + ")"
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit > 1 && len(runes) > limit {
		return string(runes[:limit-1]) + "…"
	}
	return text
}

func printBlockInfo(b ledger.Block) string {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	title := pterm.Sprintf("#%d %s", b.Index, pterm.LightCyan(b.Post.Author))
	when := humanize.Time(time.UnixMilli(b.Timestamp))
	footer := pterm.Gray(pterm.Sprintf("%s  nonce %d  %s…", when, b.Nonce, b.Hash[:min(12, len(b.Hash))]))
	likes := pterm.LightRed(pterm.Sprintf("♥ %d", b.Likes))
	return pbox.WithTitle(title).WithTitleTopLeft().Sprintf("%s\n\n%s  %s", postSummary(b.Post, 72), likes, footer)
}

func printHeaderInfo(blocks int, status ledger.Status, difficulty int, online bool) string {
	return pterm.DefaultHeader.WithBackgroundStyle(pterm.BgDarkGray.ToStyle()).Sprintf(
		"%d blocks | difficulty %d | %s | %s", blocks, difficulty, statusLabel(status), onlineLabel(online))
}

// printFeed renders the chain newest first under a status header.
func printFeed(chain []ledger.Block, status ledger.Status, difficulty int, online bool) {
	rows := [][]pterm.Panel{{{Data: printHeaderInfo(len(chain), status, difficulty, online)}}}
	for i := len(chain) - 1; i >= 0; i-- {
		rows = append(rows, []pterm.Panel{{Data: printBlockInfo(chain[i])}})
	}
	pterm.DefaultPanel.WithPanels(rows).Render()
}
