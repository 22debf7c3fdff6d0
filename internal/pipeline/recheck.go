package pipeline

import (
	"context"
	"net/http"
)

// RecheckSummary counts what a recheck pass did.
type RecheckSummary struct {
	Checked     int `json:"checked"`
	Republished int `json:"republished"`
	Failed      int `json:"failed"`
}

// Recheck probes every stored article and republishes the ones that are gone.
func (p *Pipeline) Recheck(ctx context.Context) (RecheckSummary, error) {
	var sum RecheckSummary
	galleries, err := p.ledger.Galleries(ctx)
	if err != nil {
		return sum, err
	}

	for _, g := range galleries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		article, found, err := p.ledger.Article(ctx, g.ID)
		if err != nil || !found || article.URL == "" {
			continue
		}
		sum.Checked++

		gone, err := p.articleGone(ctx, article.URL)
		if err != nil {
			p.log.WarnObj("article probe failed", "recheck_error", map[string]any{
				"gallery_id": g.ID,
				"url":        article.URL,
				"error":      err.Error(),
			})
			continue
		}
		if !gone {
			continue
		}

		msg, found, err := p.ledger.Message(ctx, g.ID)
		if err != nil || !found {
			continue
		}
		if _, err := p.Republish(ctx, g, msg); err != nil {
			sum.Failed++
			p.log.ErrorObj("republish failed", "recheck_error", map[string]any{
				"gallery_id": g.ID,
				"error":      err.Error(),
			})
			continue
		}
		sum.Republished++
	}

	p.log.InfoObj("article recheck finished", "recheck_summary", sum)
	return sum, nil
}

func (p *Pipeline) articleGone(ctx context.Context, articleURL string) (bool, error) {
	var status int
	err := p.withNet(ctx, func(ctx context.Context) error {
		resp, err := p.http.Head(ctx, articleURL, nil)
		if err != nil {
			return err
		}
		status = resp.StatusCode()
		return nil
	})
	return status == http.StatusNotFound, err
}
