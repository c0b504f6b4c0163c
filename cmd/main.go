package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"golang.org/x/term"

	"github.com/luca-patrignani/feedchain/config"
	"github.com/luca-patrignani/feedchain/ledger"
	"github.com/luca-patrignani/feedchain/reconcile"
)

const (
	actionPost  = "Write a post"
	actionMedia = "Share an audio or video file"
	actionLike  = "Like a post"
	actionSync  = "Sync now"
	actionFeed  = "Show feed"
	actionQuit  = "Quit"
)

func main() {
	configPath := flag.String("config", "feedchain.yaml", "path of the YAML configuration file")
	listen := flag.String("listen", "", "address to serve the API and chain on (overrides node.listen)")
	peer := flag.String("peer", "", "peer URL or address to sync with (overrides peer.url)")
	flag.Parse()

	// Create a new slog handler with the default PTerm logger
	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Node.Listen = *listen
	}
	if *peer != "" {
		cfg.Peer.URL = *peer
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		pterm.DefaultBigText.WithLetters(
			putils.LettersFromStringWithStyle("F", pterm.FgRed.ToStyle()),
			putils.LettersFromStringWithStyle("eed", pterm.FgDarkGray.ToStyle()),
			putils.LettersFromStringWithStyle("C", pterm.FgRed.ToStyle()),
			putils.LettersFromStringWithStyle("hain", pterm.FgDarkGray.ToStyle()),
		).Render()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(cfg, logger)
	if err != nil {
		logger.Error("failed to create node", "err", err)
		os.Exit(1)
	}
	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", "err", err)
	}
	pterm.Info.Printfln("Serving the feed on %s", n.URL())

	if interactive {
		runMenu(ctx, n)
	} else {
		<-ctx.Done()
	}

	if err := n.Close(); err != nil {
		logger.Error("shutdown", "err", err)
		os.Exit(1)
	}
}

func runMenu(ctx context.Context, n *node) {
	author, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your username").Show()
	pterm.Println()
	pterm.Info.Printfln("Posting as %s", pterm.LightCyan(author))

	actions := []string{actionPost, actionMedia, actionLike, actionSync, actionFeed, actionQuit}
	for ctx.Err() == nil {
		selected, err := pterm.DefaultInteractiveSelect.WithDefaultText("What next?").WithOptions(actions).Show()
		if err != nil {
			return
		}
		switch selected {
		case actionPost:
			content, _ := pterm.DefaultInteractiveTextInput.WithMultiLine().WithDefaultText("Your post").Show()
			appendPost(n, ledger.NewTextPost(author, content))
		case actionMedia:
			path, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Path of the file").Show()
			post, err := mediaPost(author, path)
			if err != nil {
				pterm.Error.Println(err)
				continue
			}
			appendPost(n, post)
		case actionLike:
			likePost(n)
		case actionSync:
			syncNow(ctx, n)
		case actionFeed:
			printFeed(n.ledger.Chain(), n.ledger.Status(), n.ledger.Difficulty(), n.watcher.Online())
		case actionQuit:
			return
		}
	}
}

func mediaPost(author, path string) (ledger.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ledger.Post{}, err
	}
	return ledger.NewMediaPost(author, filepath.Base(path), data)
}

func appendPost(n *node, post ledger.Post) {
	if err := post.Validate(); err != nil {
		pterm.Error.Println(err)
		return
	}
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Mining block at difficulty %d ...", n.ledger.Difficulty()))
	block, err := n.ledger.Append(post)
	if err != nil {
		spinner.Fail(err.Error())
		return
	}
	spinner.Success(fmt.Sprintf("Block #%d sealed with nonce %d", block.Index, block.Nonce))
}

func likePost(n *node) {
	chain := n.ledger.Chain()
	options := make([]string, 0, len(chain))
	hashes := make(map[string]string, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		option := fmt.Sprintf("#%d %s: %s (♥ %d)", b.Index, b.Post.Author, postSummary(b.Post, 40), b.Likes)
		options = append(options, option)
		hashes[option] = b.Hash
	}
	selected, err := pterm.DefaultInteractiveSelect.WithDefaultText("Which post?").WithOptions(options).Show()
	if err != nil {
		return
	}
	if !n.ledger.Like(hashes[selected]) {
		pterm.Warning.Println("That post is no longer on the chain")
		return
	}
	pterm.Success.Println("Liked")
}

func syncNow(ctx context.Context, n *node) {
	if !n.watcher.Online() {
		pterm.Warning.Println("The peer is offline, try again later")
		return
	}
	spinner, _ := pterm.DefaultSpinner.Start("Syncing with the peer ...")
	res, err := n.reconciler.Sync(ctx)
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		spinner.Warning("A sync is already running")
	case err != nil:
		spinner.Fail(err.Error())
	case res.Action == reconcile.Keep:
		spinner.Success("Already up to date")
	default:
		spinner.Success(fmt.Sprintf("Adopted the peer chain (%d blocks)", res.Length))
	}
}
