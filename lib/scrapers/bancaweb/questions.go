package bancaweb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bankfeed-backend/lib/htmlutil"
	"bankfeed-backend/lib/textutil"
)

// QuestionBank holds the configured keyword -> answer pairs for the
// security challenge. Entries keep their configuration order: when two
// keywords both match a question, the first configured one answers it.
type QuestionBank struct {
	entries []questionEntry
}

type questionEntry struct {
	keyword string
	answer  string
}

// ParseQuestionBank parses the "keyword:answer,keyword:answer" config
// string. Empty segments are skipped, a segment without ':' is a
// configuration mistake and fails loudly.
func ParseQuestionBank(config string) (*QuestionBank, error) {
	bank := &QuestionBank{}
	for _, segment := range strings.Split(config, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		keyword, answer, found := strings.Cut(segment, ":")
		if !found {
			return nil, fmt.Errorf("security question entry %q must look like keyword:answer", segment)
		}
		keyword = textutil.Normalize(keyword)
		if keyword == "" {
			return nil, fmt.Errorf("security question entry %q has an empty keyword", segment)
		}
		bank.entries = append(bank.entries, questionEntry{
			keyword: keyword,
			answer:  strings.TrimSpace(answer),
		})
	}
	return bank, nil
}

// Lookup finds the configured answer for a rendered question text.
func (b *QuestionBank) Lookup(question string) (string, bool) {
	normalized := textutil.Normalize(question)
	for _, entry := range b.entries {
		if strings.Contains(normalized, entry.keyword) {
			return entry.answer, true
		}
	}
	return "", false
}

func (b *QuestionBank) Len() int {
	return len(b.entries)
}

// challengeQuestion is one question rendered on the challenge page,
// paired with the form field that takes its answer.
type challengeQuestion struct {
	Prompt string
	Field  string
}

var trailingDigitsRegex = regexp.MustCompile(`(\d+)\D*$`)

// extractChallenge pulls the rendered questions and their answer inputs
// out of the challenge page. Prompt and input are paired by the index
// the portal embeds in their control ids (lblPregunta1 / txtRespuesta1);
// when the ids carry no index the document order pairs them.
func extractChallenge(doc *goquery.Document) []challengeQuestion {
	type promptInfo struct {
		text  string
		index string
	}
	var prompts []promptInfo
	doc.Find(SelectorQuestionPrompt).Each(func(_ int, sel *goquery.Selection) {
		text := htmlutil.CleanText(sel.Text())
		if text == "" {
			return
		}
		prompts = append(prompts, promptInfo{
			text:  text,
			index: controlIndex(sel),
		})
	})

	type inputInfo struct {
		field string
		index string
	}
	var inputs []inputInfo
	doc.Find(SelectorAnswerInput).Each(func(_ int, sel *goquery.Selection) {
		field, ok := sel.Attr("name")
		if !ok || field == "" {
			field, _ = sel.Attr("id")
		}
		if field == "" {
			return
		}
		inputs = append(inputs, inputInfo{
			field: field,
			index: controlIndex(sel),
		})
	})

	var questions []challengeQuestion
	used := map[int]bool{}
	for _, prompt := range prompts {
		matched := -1
		if prompt.index != "" {
			for i, input := range inputs {
				if !used[i] && input.index == prompt.index {
					matched = i
					break
				}
			}
		}
		if matched < 0 {
			for i := range inputs {
				if !used[i] {
					matched = i
					break
				}
			}
		}
		if matched < 0 {
			break
		}
		used[matched] = true
		questions = append(questions, challengeQuestion{
			Prompt: prompt.text,
			Field:  inputs[matched].field,
		})
	}
	return questions
}

func controlIndex(sel *goquery.Selection) string {
	id, _ := sel.Attr("id")
	match := trailingDigitsRegex.FindStringSubmatch(id)
	if match == nil {
		return ""
	}
	return match[1]
}

// resolveChallenge answers the rendered questions from the bank.
// Returns the field -> answer assignments and the prompts no configured
// keyword matched.
func resolveChallenge(bank *QuestionBank, questions []challengeQuestion) (map[string]string, []string) {
	answers := map[string]string{}
	var unmatched []string
	for _, question := range questions {
		answer, ok := bank.Lookup(question.Prompt)
		if !ok {
			unmatched = append(unmatched, question.Prompt)
			continue
		}
		answers[question.Field] = answer
	}
	return answers, unmatched
}
