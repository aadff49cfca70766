package bancaweb

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"

	"bankfeed-backend/lib/textutil"
	"bankfeed-backend/lib/webforms"
	"bankfeed-backend/lib/websession"
)

// defaultMaxPages caps the pager walk. Listings deeper than this are
// misconfigured date ranges, not statements worth waiting for.
const defaultMaxPages = 50

// findNextControl locates the pager's next-page postback. Explicit
// pager controls are trusted first, then the page's postbacks are swept
// for a next-page label. Previous-page controls never qualify.
func findNextControl(ctx context.Context, page *websession.Page) (webforms.Action, bool) {
	doc := page.Document()

	var found webforms.Action
	ok := false
	doc.Find(SelectorPagerNext).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		onclick, _ := sel.Attr("onclick")
		if actions := webforms.FindActionsInText(href + "\n" + onclick); len(actions) > 0 {
			found = actions[0]
			ok = true
			return false
		}
		return true
	})
	if ok {
		return found, true
	}

	for _, action := range webforms.FindActions(ctx, doc, string(page.Body)) {
		haystack := textutil.NormalizeCompact(action.Label + " " + action.Target)
		if strings.Contains(haystack, "anterior") {
			continue
		}
		if strings.Contains(haystack, "siguiente") {
			return action, true
		}
	}
	return webforms.Action{}, false
}

// collectMovements walks a movement listing page by page. Every hop
// re-extracts the form state because the portal invalidates the
// previous page's viewstate on each postback. Once the first page has
// parsed, a broken later page only ends the walk: the movements
// already collected still come back.
func (c *Client) collectMovements(ctx context.Context, page *websession.Page, accountNumber string) ([]Movement, error) {
	ctx, span := tracer.Start(ctx, "collectMovements")
	defer span.End()

	var all []Movement
	for pageIndex := 0; ; pageIndex++ {
		if err := Classify(page); err != nil {
			if pageIndex == 0 {
				return nil, err
			}
			slog.WarnContext(ctx, "movement listing broke mid walk, keeping collected pages",
				"account", accountNumber, "page", pageIndex+1, "err", err)
			break
		}
		doc := page.Document()
		if hasNoMovementsMarker(doc) {
			// the portal said so itself, an empty listing is an answer
			break
		}
		all = append(all, parseMovements(ctx, doc, accountNumber)...)

		next, ok := findNextControl(ctx, page)
		if !ok {
			break
		}
		if pageIndex+1 >= c.cfg.MaxPages {
			slog.WarnContext(ctx, "movement listing truncated",
				"account", accountNumber, "pages", c.cfg.MaxPages)
			break
		}
		fresh, err := c.submitPostback(ctx, page, next.Target, next.Argument, nil)
		if err != nil {
			slog.WarnContext(ctx, "next page fetch failed, keeping collected pages",
				"account", accountNumber, "page", pageIndex+2, "err", err)
			break
		}
		page = fresh
	}

	span.SetAttributes(attribute.Int("movements", len(all)))
	return all, nil
}
