package webforms

import (
	"context"
	"html"
	"regexp"
	"strings"

	"bankfeed-backend/lib/htmlutil"
	"bankfeed-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bankfeed.lib.webforms")

// Action is one discovered __doPostBack invocation.
type Action struct {
	Target   string
	Argument string
	// visible text of the element the call was found on, empty for
	// matches from the raw markup sweep
	Label string
}

var directCallRegex = regexp.MustCompile(
	`__doPostBack\(\s*['"]([^'"]*)['"]\s*,\s*['"]([^'"]*)['"]\s*\)`,
)

// some generated controls wrap the target in an options object instead
// of calling __doPostBack directly
var optionsCallRegex = regexp.MustCompile(
	`WebForm_DoPostBackWithOptions\(\s*new\s+WebForm_PostBackOptions\(\s*['"]([^'"]*)['"]\s*,\s*['"]([^'"]*)['"]`,
)

func scanCalls(script string, label string, add func(target, argument, label string)) {
	for _, groups := range directCallRegex.FindAllStringSubmatch(script, -1) {
		add(groups[1], groups[2], label)
	}
	for _, groups := range optionsCallRegex.FindAllStringSubmatch(script, -1) {
		add(groups[1], groups[2], label)
	}
}

// FindActions discovers the postback calls on a page. Elements are
// scanned first so actions keep their visible labels, then the raw
// markup is swept again as redundancy: script blocks and anything the
// DOM parse mangled still surface, just without a label. The first
// discovery of a (target, argument) pair wins.
func FindActions(ctx context.Context, doc *goquery.Document, rawHtml string) []Action {
	ctx, span := tracer.Start(ctx, "FindActions")
	defer span.End()

	type key struct{ target, argument string }
	seen := map[key]bool{}
	var actions []Action

	add := func(target, argument, label string) {
		if target == "" {
			return
		}
		k := key{target, argument}
		if seen[k] {
			return
		}
		seen[k] = true
		actions = append(actions, Action{
			Target:   target,
			Argument: argument,
			Label:    label,
		})
	}

	clickables := htmlutil.GetClickables(ctx, doc.Find("a, input, button, td, span, img"))
	for _, c := range clickables {
		scanCalls(c.Href, c.Label, add)
		scanCalls(c.OnClick, c.Label, add)
	}

	// attribute values were entity-decoded by the DOM parse, decode the
	// raw markup the same way before sweeping it
	scanCalls(html.UnescapeString(rawHtml), "", add)

	span.SetAttributes(attribute.Int("count", len(actions)))
	return actions
}

// FindActionsInText sweeps a markup or script fragment for postback
// calls. Useful for scoping discovery to a single table row. Labels are
// not recovered, dedupe and ordering follow FindActions.
func FindActionsInText(text string) []Action {
	type key struct{ target, argument string }
	seen := map[key]bool{}
	var actions []Action
	scanCalls(html.UnescapeString(text), "", func(target, argument, label string) {
		if target == "" {
			return
		}
		k := key{target, argument}
		if seen[k] {
			return
		}
		seen[k] = true
		actions = append(actions, Action{Target: target, Argument: argument, Label: label})
	})
	return actions
}

const menuLabelMinLen = 4
const menuLabelMaxLen = 48
const menuLabelBonus = 5

// Score ranks an action against a priority-ordered keyword list:
// position i of n contributes (n-i)*10, so the first listed keyword
// dominates everything after it. Labels sized like a menu item get a
// small flat bonus on top.
func Score(action Action, keywords []string) int {
	haystack := textutil.NormalizeCompact(action.Label + " " + action.Target)

	score := 0
	for i, keyword := range keywords {
		k := textutil.NormalizeCompact(keyword)
		if k == "" {
			continue
		}
		if strings.Contains(haystack, k) {
			score += (len(keywords) - i) * 10
		}
	}
	if score > 0 {
		labelLen := len(textutil.Normalize(action.Label))
		if labelLen >= menuLabelMinLen && labelLen <= menuLabelMaxLen {
			score += menuLabelBonus
		}
	}
	return score
}

// Best returns the highest scoring action. Ties keep the action
// discovered first. ok is false when nothing scores above zero.
func Best(ctx context.Context, actions []Action, keywords []string) (Action, bool) {
	_, span := tracer.Start(ctx, "Best")
	defer span.End()

	best := Action{}
	bestScore := 0
	for _, action := range actions {
		score := Score(action, keywords)
		if score > bestScore {
			best = action
			bestScore = score
		}
	}

	span.SetAttributes(
		attribute.String("target", best.Target),
		attribute.Int("score", bestScore),
	)
	if bestScore == 0 {
		return Action{}, false
	}
	span.AddEvent("picked", trace.WithAttributes(
		attribute.String("label", best.Label),
	))
	return best, true
}
