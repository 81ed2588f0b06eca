// Package ingest validates and normalizes raw CSV ledgers into transaction
// records. The detection core never sees unvalidated input.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	// ErrInvalidCSV reports a file that cannot be parsed as CSV at all.
	ErrInvalidCSV = errors.New("invalid csv file")

	// ErrMissingColumn reports a required column absent from the header.
	ErrMissingColumn = errors.New("missing required column")

	// ErrBadRecord reports a row with an unparseable or out-of-range value.
	ErrBadRecord = errors.New("bad record")
)

// Column aliases accepted from UI exports.
var columnAliases = map[string]string{
	"from_account": "sender_id",
	"from":         "sender_id",
	"to_account":   "receiver_id",
	"to":           "receiver_id",
}

// Timestamp layouts tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseCSV reads a transaction ledger, renames aliased columns, rejects
// files missing required columns, and parses amounts and timestamps.
// Rows keep their file order. Transaction ids are synthesized as TXN_n when
// the id column is absent.
func ParseCSV(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[name]; ok {
			name = canonical
		}
		cols[name] = i
	}

	for _, required := range []string{"sender_id", "receiver_id", "amount", "timestamp"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	idCol, hasID := cols["transaction_id"]

	var txs []domain.Transaction
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidCSV, row, err)
		}

		get := func(col string) string {
			i := cols[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		sender := get("sender_id")
		receiver := get("receiver_id")
		if sender == "" || receiver == "" {
			return nil, fmt.Errorf("%w: row %d: empty sender or receiver", ErrBadRecord, row)
		}

		amount, err := strconv.ParseFloat(get("amount"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: amount %q", ErrBadRecord, row, get("amount"))
		}
		if amount < 0 {
			return nil, fmt.Errorf("%w: row %d: negative amount", ErrBadRecord, row)
		}

		ts, err := parseTimestamp(get("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadRecord, row, err)
		}

		id := fmt.Sprintf("TXN_%d", row)
		if hasID {
			if v := strings.TrimSpace(record[idCol]); v != "" {
				id = v
			}
		}

		txs = append(txs, domain.Transaction{
			ID:        id,
			Sender:    sender,
			Receiver:  receiver,
			Amount:    amount,
			Timestamp: ts,
		})
	}

	return txs, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
