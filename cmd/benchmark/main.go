// Benchmark replays a labelled PaySim CSV against a running Kestrel and
// compares its verdicts with the fraud labels.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080 -mode fraud
//
// In prescreen mode a transaction counts as flagged when the decision is
// anything but auto_approve. In fraud mode it is flagged when the detector
// reports isFraudulent.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// stepEpoch anchors PaySim's hourly step counter to wall-clock time.
var stepEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type labelledTx struct {
	Step     int
	Type     string
	Amount   float64
	Customer string
	Merchant string
	IsFraud  bool
}

type txRequest struct {
	ID            string         `json:"id"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentMethod string         `json:"paymentMethod"`
	CustomerID    string         `json:"customerId"`
	MerchantID    string         `json:"merchantId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type verdict struct {
	Decision     string `json:"decision"`
	RiskScore    int    `json:"riskScore"`
	IsFraudulent bool   `json:"isFraudulent"`
}

type tally struct {
	truePos, falsePos, trueNeg, falseNeg atomic.Int64
	errors                               atomic.Int64
	latencyMs                            atomic.Int64
	processed                            atomic.Int64
}

func main() {
	csvPath := flag.String("csv", "", "path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	mode := flag.String("mode", "prescreen", "endpoint to exercise: prescreen or fraud")
	limit := flag.Int("limit", 10000, "maximum transactions to replay (0 = all)")
	workers := flag.Int("workers", 10, "concurrent requests")
	fraudOnly := flag.Bool("fraud-only", false, "replay only fraudulent rows")
	verbose := flag.Bool("verbose", false, "print every verdict")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080] [-mode prescreen|fraud]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	path := "/prescreen"
	switch *mode {
	case "prescreen":
	case "fraud":
		path = "/fraud/detect"
	default:
		fmt.Printf("unknown mode %q\n", *mode)
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	txs, err := readCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(txs), *csvPath)

	start := time.Now()
	t := replay(context.Background(), txs, *baseURL+path, *mode, *workers, *verbose)
	report(t, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCSV(path string, limit int, fraudOnly bool) ([]labelledTx, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(name)] = i
	}
	for _, required := range []string{"step", "type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var out []labelledTx
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		isFraud := rec[col["isfraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}
		step, _ := strconv.Atoi(rec[col["step"]])
		amount, _ := strconv.ParseFloat(rec[col["amount"]], 64)

		out = append(out, labelledTx{
			Step:     step,
			Type:     rec[col["type"]],
			Amount:   amount,
			Customer: rec[col["nameorig"]],
			Merchant: rec[col["namedest"]],
			IsFraud:  isFraud,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// paymentMethod maps PaySim transaction types onto Kestrel payment methods.
func paymentMethod(paysimType string) string {
	switch strings.ToUpper(paysimType) {
	case "CASH_IN", "CASH_OUT":
		return "cash"
	case "DEBIT":
		return "debit_card"
	case "TRANSFER":
		return "bank_transfer"
	default:
		return "credit_card"
	}
}

func replay(ctx context.Context, txs []labelledTx, endpoint, mode string, workers int, verbose bool) *tally {
	t := &tally{}
	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, tx := range txs {
		g.Go(func() error {
			began := time.Now()
			v, err := send(ctx, client, endpoint, i, tx)
			t.latencyMs.Add(time.Since(began).Milliseconds())
			t.processed.Add(1)
			if err != nil {
				t.errors.Add(1)
				if verbose {
					fmt.Printf("ERROR %s: %v\n", tx.Customer, err)
				}
				return nil
			}

			flagged := v.IsFraudulent
			if mode == "prescreen" {
				flagged = v.Decision != "auto_approve"
			}
			switch {
			case flagged && tx.IsFraud:
				t.truePos.Add(1)
			case flagged:
				t.falsePos.Add(1)
			case tx.IsFraud:
				t.falseNeg.Add(1)
			default:
				t.trueNeg.Add(1)
			}

			if verbose {
				fmt.Printf("%-12s %-9s %12.2f fraud=%-5v flagged=%-5v decision=%s risk=%d\n",
					tx.Customer, tx.Type, tx.Amount, tx.IsFraud, flagged, v.Decision, v.RiskScore)
			}
			return nil
		})
	}
	_ = g.Wait()
	return t
}

func send(ctx context.Context, client *http.Client, endpoint string, seq int, tx labelledTx) (*verdict, error) {
	body, err := json.Marshal(txRequest{
		ID:            fmt.Sprintf("bench-%d", seq),
		Amount:        tx.Amount,
		Currency:      "USD",
		PaymentMethod: paymentMethod(tx.Type),
		CustomerID:    tx.Customer,
		MerchantID:    tx.Merchant,
		Timestamp:     stepEpoch.Add(time.Duration(tx.Step) * time.Hour),
		Metadata:      map[string]any{"paysimType": tx.Type, "step": tx.Step},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 503 on /prescreen still carries a fail-safe decision.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func report(t *tally, elapsed time.Duration) {
	tp, fp := t.truePos.Load(), t.falsePos.Load()
	tn, fn := t.trueNeg.Load(), t.falseNeg.Load()
	processed := t.processed.Load()

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Println()
	fmt.Printf("Processed:  %d (errors %d)\n", processed, t.errors.Load())
	fmt.Println()
	fmt.Println("                 flagged    passed")
	fmt.Printf("  fraud        %9d %9d\n", tp, fn)
	fmt.Printf("  legitimate   %9d %9d\n", fp, tn)
	fmt.Println()
	fmt.Printf("Precision:  %.4f\n", precision)
	fmt.Printf("Recall:     %.4f\n", recall)
	fmt.Printf("F1:         %.4f\n", f1)
	fmt.Printf("Accuracy:   %.4f\n", ratio(tp+tn, tp+tn+fp+fn))
	fmt.Println()
	fmt.Printf("Duration:   %v\n", elapsed.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("Latency:    %.2f ms avg\n", float64(t.latencyMs.Load())/float64(processed))
		fmt.Printf("Throughput: %.2f tx/s\n", float64(processed)/elapsed.Seconds())
	}
}
