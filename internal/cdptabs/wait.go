package cdptabs

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/titlesync/internal/tabs"
)

const titlePollInterval = 100 * time.Millisecond

// sessionExecutor runs cdproto commands on one flat session of the raw
// connection, so chromedp actions can execute without a chromedp target
// context. Those contexts close their tab when cancelled.
type sessionExecutor struct {
	cdp       *rawCDP
	sessionID string
}

func (e sessionExecutor) Execute(ctx context.Context, method string, params, res any) error {
	return e.cdp.call(ctx, e.sessionID, method, params, res)
}

// WaitForTitle blocks until the document in tab id reports the title want.
// Read failures while the page is still loading are retried until ctx ends.
func (p *Provider) WaitForTitle(ctx context.Context, id tabs.TabID, want string) error {
	ticker := time.NewTicker(titlePollInterval)
	defer ticker.Stop()

	var last string
	var lastErr error
	for {
		last, lastErr = p.readTitle(ctx, target.ID(id))
		if lastErr == nil && last == want {
			slog.Debug("cdptabs tab title ready", "target_id", id, "title", want)
			return nil
		}
		if lastErr != nil {
			slog.Debug("cdptabs read title failed", "target_id", id, "error", lastErr)
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return tabs.NewError(tabs.CodeEvalTimeout, "waiting for tab title timed out", lastErr)
			}
			return tabs.NewError(tabs.CodeEvalTimeout, "waiting for tab title timed out: last="+last, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) readTitle(ctx context.Context, id target.ID) (string, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	sessionID, err := p.ensureSession(ctx, client, id)
	if err != nil {
		return "", err
	}
	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	var got string
	exec := cdp.WithExecutor(evalCtx, sessionExecutor{cdp: client, sessionID: sessionID})
	if err := chromedp.Title(&got).Do(exec); err != nil {
		p.dropSession(id)
		return "", err
	}
	return got, nil
}
