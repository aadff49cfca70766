package bancaweb

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"bankfeed-backend/lib/htmlutil"
	"bankfeed-backend/lib/textutil"
	"bankfeed-backend/lib/timezone"
	"bankfeed-backend/lib/webforms"
)

// Account is one row of the portal's account listing.
type Account struct {
	Kind     string          `json:"kind"`
	Number   string          `json:"number"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`

	// Target and Argument identify the postback that drills into the
	// account's movement listing, when the row carries one.
	Target   string `json:"-"`
	Argument string `json:"-"`
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Movement is one settled transaction row. Amount is always
// non-negative, Direction carries the sign.
type Movement struct {
	AccountNumber string              `json:"account_number"`
	Date          time.Time           `json:"date"`
	Description   string              `json:"description"`
	Reference     string              `json:"reference,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Direction     Direction           `json:"direction"`
	Balance       decimal.NullDecimal `json:"balance,omitempty"`
}

var dateTokenRegex = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4}|\d{2})\b`)

// parseBankDate reads the portal's dd/mm/yyyy value dates, in bank-local
// time. Two-digit years are records from this century.
func parseBankDate(cell string) (time.Time, bool) {
	match := dateTokenRegex.FindStringSubmatch(cell)
	if match == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])
	if len(match[3]) == 2 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, timezone.Location)
	if date.Day() != day || date.Month() != time.Month(month) {
		// time.Date normalized an impossible calendar day away
		return time.Time{}, false
	}
	return date, true
}

// parseLocaleAmount reads portal amounts in both regional renderings,
// "1.234,56" and "1,234.56". When both separators appear the one
// further right is the decimal mark. A lone separator is a decimal mark
// only when one or two digits follow it: "1.234" stays one thousand two
// hundred thirty-four. Currency markers and wrapping parentheses are
// tolerated.
func parseLocaleAmount(cell string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(cell)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && len(s) > 1 {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = s[:len(s)-1]
	}

	letters := 0
	var core strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			core.WriteRune(r)
		case unicode.IsLetter(r):
			// short currency markers only, anything longer is prose
			letters++
			if letters > 4 {
				return decimal.Decimal{}, false
			}
		case r == '$' || r == ' ' || r == ' ':
		default:
			return decimal.Decimal{}, false
		}
	}
	digits := core.String()
	if !strings.ContainsFunc(digits, func(r rune) bool { return r >= '0' && r <= '9' }) {
		return decimal.Decimal{}, false
	}

	lastDot := strings.LastIndex(digits, ".")
	lastComma := strings.LastIndex(digits, ",")
	decimalIdx := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			decimalIdx = lastComma
		} else {
			decimalIdx = lastDot
		}
	case lastComma >= 0:
		if strings.Count(digits, ",") == 1 && isDecimalTail(digits, lastComma) {
			decimalIdx = lastComma
		}
	case lastDot >= 0:
		if strings.Count(digits, ".") == 1 && isDecimalTail(digits, lastDot) {
			decimalIdx = lastDot
		}
	}

	var canonical strings.Builder
	for i := 0; i < len(digits); i++ {
		switch digits[i] {
		case '.', ',':
			if i == decimalIdx {
				canonical.WriteByte('.')
			}
		default:
			canonical.WriteByte(digits[i])
		}
	}
	value, err := decimal.NewFromString(canonical.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		value = value.Neg()
	}
	return value, true
}

func isDecimalTail(digits string, sepIdx int) bool {
	tail := len(digits) - sepIdx - 1
	return tail >= 1 && tail <= 2
}

// parseCellAmount is the cell classifier in front of parseLocaleAmount:
// amount cells must carry a separator, so bare references and counters
// never read as money.
func parseCellAmount(cell string) (decimal.Decimal, bool) {
	if !strings.ContainsAny(cell, ".,") {
		return decimal.Decimal{}, false
	}
	if dateTokenRegex.MatchString(cell) {
		return decimal.Decimal{}, false
	}
	return parseLocaleAmount(cell)
}

// classifyIndicator recognizes the explicit debit/credit column the
// portal renders on most movement listings.
func classifyIndicator(cell string) (Direction, bool) {
	switch textutil.NormalizeCompact(cell) {
	case "d", "db", "debito", "debe", "cargo":
		return DirectionDebit, true
	case "c", "cr", "credito", "haber", "abono":
		return DirectionCredit, true
	}
	return "", false
}

var referenceRegex = regexp.MustCompile(`^\d{6,}$`)

// parseMovementRow classifies one row's cells into a movement. Rows
// without a value date or with a zero amount are not movements.
func parseMovementRow(cells []string) (Movement, bool) {
	var movement Movement
	var amounts []decimal.Decimal
	var direction Direction
	haveDate := false
	haveDirection := false

	for _, cell := range cells {
		if cell == "" {
			continue
		}
		if dateTokenRegex.MatchString(cell) {
			// first date is the value date, later date columns
			// (posting date and friends) are ignored
			if !haveDate {
				if date, ok := parseBankDate(cell); ok {
					movement.Date = date
					haveDate = true
				}
			}
			continue
		}
		if !haveDirection {
			if d, ok := classifyIndicator(cell); ok {
				direction = d
				haveDirection = true
				continue
			}
		}
		if amount, ok := parseCellAmount(cell); ok {
			amounts = append(amounts, amount)
			continue
		}
		if movement.Reference == "" && referenceRegex.MatchString(textutil.NormalizeCompact(cell)) {
			movement.Reference = textutil.NormalizeCompact(cell)
			continue
		}
		if len(cell) > len(movement.Description) {
			movement.Description = cell
		}
	}

	if !haveDate || len(amounts) == 0 {
		return Movement{}, false
	}
	amount := amounts[0]
	if amount.IsZero() {
		return Movement{}, false
	}
	if len(amounts) > 1 {
		// the rightmost money column is the running balance
		movement.Balance = decimal.NullDecimal{Decimal: amounts[len(amounts)-1], Valid: true}
	}
	switch {
	case haveDirection:
		movement.Direction = direction
	case amount.IsNegative():
		movement.Direction = DirectionDebit
	default:
		movement.Direction = DirectionCredit
	}
	movement.Amount = amount.Abs()
	return movement, true
}

// parseMovements extracts every movement row from a listing page.
func parseMovements(ctx context.Context, doc *goquery.Document, accountNumber string) []Movement {
	ctx, span := tracer.Start(ctx, "parseMovements")
	defer span.End()

	var movements []Movement
	tableRows(doc, "movimiento", "transaccion").Each(func(_ int, row *goquery.Selection) {
		cells := rowCells(row)
		if len(cells) < 2 {
			return
		}
		movement, ok := parseMovementRow(cells)
		if !ok {
			slog.DebugContext(ctx, "skipping movement row", "cells", cells)
			return
		}
		movement.AccountNumber = accountNumber
		movements = append(movements, movement)
	})

	span.SetAttributes(attribute.Int("movements", len(movements)))
	return movements
}

// looksLikeAccountNumber accepts digit groups with at least ten digits,
// optionally dash or space separated. Dots and commas are money
// formatting and disqualify the cell.
func looksLikeAccountNumber(cell string) bool {
	digits := 0
	for _, r := range cell {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 30
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func classifyCurrency(cell string) (string, bool) {
	if strings.ContainsAny(cell, "$") {
		return "USD", true
	}
	switch textutil.NormalizeCompact(cell) {
	case "bs", "bss", "bsd", "ves", "bolivares":
		return "VES", true
	case "usd", "dolares":
		return "USD", true
	case "eur", "euros":
		return "EUR", true
	}
	return "", false
}

// parseAccountRow classifies one listing row into an account. The row's
// own markup is swept for the drill-down postback so Movements can
// navigate straight to the listing.
func parseAccountRow(row *goquery.Selection) (Account, bool) {
	var account Account
	var amounts []decimal.Decimal

	for _, cell := range rowCells(row) {
		if cell == "" {
			continue
		}
		if account.Number == "" && looksLikeAccountNumber(cell) {
			account.Number = digitsOnly(cell)
			continue
		}
		if currency, ok := classifyCurrency(cell); ok && account.Currency == "" {
			account.Currency = currency
			continue
		}
		if amount, ok := parseCellAmount(cell); ok {
			amounts = append(amounts, amount)
			continue
		}
		if account.Kind == "" && letterCount(cell) >= 3 {
			account.Kind = cell
		}
	}

	if account.Number == "" {
		return Account{}, false
	}
	if len(amounts) > 0 {
		account.Balance = amounts[len(amounts)-1]
	}
	if account.Currency == "" {
		account.Currency = "VES"
	}
	if rowHtml, err := goquery.OuterHtml(row); err == nil {
		if actions := webforms.FindActionsInText(rowHtml); len(actions) > 0 {
			account.Target = actions[0].Target
			account.Argument = actions[0].Argument
		}
	}
	return account, true
}

// parseAccounts extracts the account listing. Rows repeating an already
// seen account number are dropped, the first row wins.
func parseAccounts(ctx context.Context, doc *goquery.Document) []Account {
	ctx, span := tracer.Start(ctx, "parseAccounts")
	defer span.End()

	var accounts []Account
	seen := map[string]bool{}
	tableRows(doc, "cuenta", "producto").Each(func(_ int, row *goquery.Selection) {
		account, ok := parseAccountRow(row)
		if !ok {
			return
		}
		if seen[account.Number] {
			slog.DebugContext(ctx, "skipping duplicate account row", "number", account.Number)
			return
		}
		seen[account.Number] = true
		accounts = append(accounts, account)
	})

	span.SetAttributes(attribute.Int("accounts", len(accounts)))
	return accounts
}

// tableRows selects the rows of the tables whose id mentions one of the
// markers. Portals rename their grids often enough that falling back to
// every table on the page beats returning nothing.
func tableRows(doc *goquery.Document, idMarkers ...string) *goquery.Selection {
	tables := doc.Find("table").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		id, _ := sel.Attr("id")
		compact := textutil.NormalizeCompact(id)
		for _, marker := range idMarkers {
			if strings.Contains(compact, marker) {
				return true
			}
		}
		return false
	})
	if tables.Length() == 0 {
		tables = doc.Find("table")
	}
	return tables.Find("tr")
}

func rowCells(row *goquery.Selection) []string {
	var cells []string
	row.Find("td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, htmlutil.CleanText(cell.Text()))
	})
	return cells
}

func letterCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}

func hasNoMovementsMarker(doc *goquery.Document) bool {
	return matchesAny(textutil.Normalize(doc.Find("body").Text()), noMovementsPhrases)
}
