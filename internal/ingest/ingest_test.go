package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCSV(t *testing.T) {
	csv := `transaction_id,sender_id,receiver_id,amount,timestamp
TX1,A,B,100.50,2025-01-01T10:00:00
TX2,B,C,200,2025-01-01 11:30:00
`
	txs, err := ParseCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}

	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}

	if txs[0].ID != "TX1" || txs[0].Sender != "A" || txs[0].Receiver != "B" {
		t.Errorf("unexpected first record: %+v", txs[0])
	}
	if txs[0].Amount != 100.50 {
		t.Errorf("expected amount 100.50, got %v", txs[0].Amount)
	}
	want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if !txs[0].Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, txs[0].Timestamp)
	}
}

func TestParseCSVColumnAliases(t *testing.T) {
	csv := `from_account,to_account,amount,timestamp
A,B,50,2025-01-01
`
	txs, err := ParseCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if txs[0].Sender != "A" || txs[0].Receiver != "B" {
		t.Errorf("aliases not applied: %+v", txs[0])
	}
}

func TestParseCSVSynthesizedIDs(t *testing.T) {
	csv := `sender_id,receiver_id,amount,timestamp
A,B,10,2025-01-01
B,C,20,2025-01-02
`
	txs, err := ParseCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if txs[0].ID != "TXN_0" || txs[1].ID != "TXN_1" {
		t.Errorf("expected synthesized ids TXN_0/TXN_1, got %s/%s", txs[0].ID, txs[1].ID)
	}
}

func TestParseCSVTimestampFormats(t *testing.T) {
	formats := []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01T10:00:00",
		"2025-01-01 10:00:00",
		"2025-01-01 10:00",
		"2025-01-01",
	}

	for _, f := range formats {
		csv := "sender_id,receiver_id,amount,timestamp\nA,B,10," + f + "\n"
		if _, err := ParseCSV(strings.NewReader(csv)); err != nil {
			t.Errorf("format %q rejected: %v", f, err)
		}
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want error
	}{
		{
			name: "MissingColumn",
			csv:  "sender_id,receiver_id,amount\nA,B,10\n",
			want: ErrMissingColumn,
		},
		{
			name: "EmptySender",
			csv:  "sender_id,receiver_id,amount,timestamp\n,B,10,2025-01-01\n",
			want: ErrBadRecord,
		},
		{
			name: "BadAmount",
			csv:  "sender_id,receiver_id,amount,timestamp\nA,B,abc,2025-01-01\n",
			want: ErrBadRecord,
		},
		{
			name: "NegativeAmount",
			csv:  "sender_id,receiver_id,amount,timestamp\nA,B,-5,2025-01-01\n",
			want: ErrBadRecord,
		},
		{
			name: "BadTimestamp",
			csv:  "sender_id,receiver_id,amount,timestamp\nA,B,10,January 1st\n",
			want: ErrBadRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.csv))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseCSVEmptyFile(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	if !errors.Is(err, ErrInvalidCSV) {
		t.Errorf("expected ErrInvalidCSV for empty input, got %v", err)
	}
}

func TestParseCSVHeaderOnly(t *testing.T) {
	txs, err := ParseCSV(strings.NewReader("sender_id,receiver_id,amount,timestamp\n"))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no transactions, got %d", len(txs))
	}
}
