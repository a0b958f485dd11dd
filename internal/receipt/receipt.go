// Package receipt формирует текстовый канал чека: поток управляющих кодов
// ESC/POS и текста фиксированной ширины для термопринтера на 48 колонок.
package receipt

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/coopdesk-system/internal/model"
)

const lineWidth = 48

// Управляющие коды ESC/POS.
const (
	reset       = "\x1b@"
	alignCenter = "\x1ba\x01"
	alignLeft   = "\x1ba\x00"
	doubleSize  = "\x1d!\x01"
	normalSize  = "\x1d!\x00"
	boldOn      = "\x1bE\x01"
	boldOff     = "\x1bE\x00"
)

var divider = strings.Repeat("-", lineWidth) + "\n"

// Входные даты принимаются в нескольких форматах, первый подошедший выигрывает.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Format строит байтовый поток чека для записи члена общества.
// Текстовый канал детерминирован с точностью до байта.
func Format(m *model.MemberRecord) []byte {
	var b bytes.Buffer

	b.WriteString(reset)
	b.WriteString(alignCenter)

	b.WriteString(doubleSize)
	b.WriteString(boldOn)
	b.WriteString("AAI (NAD) EMPLOYEES\n")
	b.WriteString("CO-OP THRIFT & CREDIT SOCIETY LIMITED (G.S.49)\n")
	b.WriteString(normalSize)
	b.WriteString(boldOff)

	b.WriteString(divider)
	b.WriteString(boldOn)
	b.WriteString("G.B MEETING NOTICE\n")
	b.WriteString(boldOff)
	b.WriteString("Date: 12/01/2026 at 11:00 am\n")
	b.WriteString("Venue: Conference Hall, Admin Building\n")
	b.WriteString(divider)

	b.WriteString(alignLeft)

	fmt.Fprintf(&b, " Member No   : %s\n", m.MemberNumber)
	fmt.Fprintf(&b, " Employee No : %s\n", m.EmployeeNumber)
	b.WriteString(" Name        : ")
	b.WriteString(boldOn)
	fmt.Fprintf(&b, "%s\n", m.Name)
	b.WriteString(boldOff)
	fmt.Fprintf(&b, " Station     : %s\n", m.Station)

	closed := m.AccountClosed()

	if closed {
		b.WriteString("\n")
		b.WriteString(alignCenter)
		b.WriteString(doubleSize)
		b.WriteString(boldOn)
		b.WriteString("*** A/C CLOSED ***\n")
		b.WriteString(boldOff)
		b.WriteString(normalSize)
		b.WriteString(alignLeft)
		b.WriteString("\n")
	}

	b.WriteString(divider)

	// По закрытому счёту вклады не печатаются.
	if !closed {
		writeSectionTitle(&b, "DEPOSIT DETAILS")
		b.WriteString(formatThreeColumns("Share Capital", "Thrift Dep", "F.W Deposit"))
		b.WriteString(divider)
		b.WriteString(formatThreeColumns(
			rupees(m.ShareCapital),
			rupees(m.ThriftDeposit),
			rupees(m.FamilyDeposit),
		))
		b.WriteString(divider)
	}

	if floatValue(m.LoanBalance) > 0 {
		writeSectionTitle(&b, "LOAN DETAILS")
		b.WriteString(formatThreeColumns("Loan Date", "Amount", "Balance"))
		b.WriteString(divider)
		b.WriteString(formatThreeColumns(
			formatDateOnly(m.LoanDate),
			rupees(m.LoanAmount),
			rupees(m.LoanBalance),
		))
		b.WriteString(divider)
	}

	writeSectionTitle(&b, "DIVIDEND CALCULATION DETAILS")

	const rowFormat = "%-10s%-10s%8s%10s%10s\n"
	fmt.Fprintf(&b, rowFormat, "From", "To", "Days", "Bal", "Amt")
	b.WriteString(divider)

	total := 0.0
	for _, entry := range m.Dividend {
		fmt.Fprintf(&b, rowFormat,
			formatDateOnly(entry.From),
			formatDateOnly(entry.To),
			strconv.Itoa(intValue(entry.Days)),
			strconv.Itoa(int(floatValue(entry.Balance))),
			fmt.Sprintf("%.2f", floatValue(entry.Amount)),
		)
		total += floatValue(entry.Amount)
	}

	b.WriteString(divider)
	b.WriteString(boldOn)
	// Ставка в подписи — только надпись, сумма складывается из строк таблицы.
	fmt.Fprintf(&b, "%38s%10s\n", "Dividend @ 14% :", fmt.Sprintf("%.2f", total))
	b.WriteString(boldOff)
	b.WriteString(divider)

	b.WriteString(boldOn)
	b.WriteString(formatKeyValue("NEFT Amount", "Rs. "+formatAmount(m.NEFT)))
	b.WriteString(boldOff)
	b.WriteString(formatKeyValue("A/C No", strings.TrimSpace(m.AccountNumber)))

	b.WriteString("\n\n")

	return b.Bytes()
}

func writeSectionTitle(b *bytes.Buffer, title string) {
	b.WriteString(alignCenter)
	b.WriteString(boldOn)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(boldOff)
	b.WriteString(alignLeft)
	b.WriteString(divider)
}

// formatThreeColumns раскладывает три ячейки по слотам в 16 колонок:
// левая прижата влево, средняя центрируется, правая прижата вправо.
// Ячейка длиннее слота печатается без выравнивания, без усечения.
func formatThreeColumns(col1, col2, col3 string) string {
	const colWidth = lineWidth / 3

	left := fmt.Sprintf("%-16s", col1)
	right := fmt.Sprintf("%16s", col3)

	middle := col2
	if len(col2) < colWidth {
		totalPadding := colWidth - len(col2)
		padLeft := totalPadding / 2
		middle = strings.Repeat(" ", padLeft) + col2 + strings.Repeat(" ", totalPadding-padLeft)
	}

	return left + middle + right + "\n"
}

// formatKeyValue печатает пару ключ/значение на всю ширину строки.
// Если пара не помещается, между ними остаётся одиночный пробел.
func formatKeyValue(key, value string) string {
	padding := lineWidth - len(key) - len(value)
	if padding <= 0 {
		return key + " " + value + "\n"
	}
	return key + strings.Repeat(" ", padding) + value + "\n"
}

// formatDateOnly приводит дату к виду dd/MM/yy.
// Нераспознанное значение возвращается без изменений.
func formatDateOnly(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("02/01/06")
		}
	}
	return value
}

func rupees(v *float64) string {
	return "Rs." + strconv.Itoa(int(floatValue(v)))
}

// formatAmount печатает сумму как десятичное число: целые значения
// получают хвост ".0", отсутствующее значение печатается как "0".
func formatAmount(v *float64) string {
	if v == nil {
		return "0"
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func floatValue(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
