// Package format renders listings as Telegram HTML messages and builds the
// inline keyboards attached to them.
package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"listing-bot/core/listings"
)

const (
	RetractedNotice = "⭕️ Объявление снято с публикации"
	retractedSuffix = "\n\n<b>" + RetractedNotice + "</b>"
)

// Format renders l with the fixed template of its kind. User supplied
// values are HTML escaped.
func Format(l listings.Listing) string {
	switch {
	case l.Kind == listings.KindExchange && l.Exchange != nil:
		return formatExchange(*l.Exchange, l.Comment)
	case l.Kind == listings.KindCargo && l.Cargo != nil:
		return formatCargo(*l.Cargo, l.Comment)
	}
	return ""
}

func formatExchange(e listings.CurrencyExchange, comment string) string {
	sell, buy := esc(e.SellCurrency), esc(e.BuyCurrency)

	header := fmt.Sprintf("🔴 Продажа %s за %s", sell, buy)
	if e.Direction == listings.Buy {
		header = fmt.Sprintf("🟢 Покупка %s за %s", buy, sell)
	}

	return tree(header,
		"Валюта продажи: "+sell,
		"Валюта покупки: "+buy,
		"Сумма: "+number(e.Amount)+" "+esc(e.AmountCurrency()),
		"Курс: "+number(e.Rate),
		"Город: "+esc(e.City),
		"Способ обмена: "+esc(e.ExchangeMethod),
		commentLine(comment),
	)
}

func formatCargo(c listings.Cargo, comment string) string {
	return tree("📦 Груз: "+esc(c.CargoType),
		"Маршрут: "+esc(c.Origin)+" → "+esc(c.Destination),
		"Вес: "+number(c.Weight)+" кг",
		"Цена за единицу: "+number(c.PricePerUnit),
		commentLine(comment),
	)
}

func commentLine(comment string) string {
	if comment == "" {
		return ""
	}
	return "Комментарий: " + esc(comment)
}

// tree joins non-empty lines under header with box drawing prefixes.
func tree(header string, lines ...string) string {
	var b strings.Builder
	b.WriteString(header)

	var kept []string
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	for i, l := range kept {
		prefix := "\n├ "
		if i == len(kept)-1 {
			prefix = "\n└ "
		}
		b.WriteString(prefix)
		b.WriteString(l)
	}
	return b.String()
}

// Retracted appends the retraction notice to an already formatted text.
// Applying it twice doesn't repeat the notice.
func Retracted(text string) string {
	if strings.HasSuffix(text, retractedSuffix) {
		return text
	}
	return text + retractedSuffix
}

// RetractedPlain is Retracted for text read back from a delivered message,
// where Telegram has already stripped the markup.
func RetractedPlain(plain string) string {
	plain = strings.TrimSpace(plain)
	plain = strings.TrimSpace(strings.TrimSuffix(plain, RetractedNotice))
	return Retracted(esc(plain))
}

func esc(s string) string { return html.EscapeString(s) }

func number(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
