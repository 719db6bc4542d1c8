package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/pkg/ledger"
	"github.com/cypherlabs/cipher-score-api/pkg/mxe"
)

var (
	testWallet      = base58.Encode(append([]byte{1}, make([]byte, 31)...))
	testPayerWallet = base58.Encode(append([]byte{2}, make([]byte, 31)...))
)

type fakeRuntime struct {
	notReady bool
	payer    ed25519.PrivateKey
}

func (f *fakeRuntime) Ready() error {
	if f.notReady {
		return ErrNotInitialized
	}
	return nil
}
func (f *fakeRuntime) PayerKey() ed25519.PrivateKey { return f.payer }
func (f *fakeRuntime) PayerAddress() string         { return testPayerWallet }
func (f *fakeRuntime) ProgramAddress() string       { return base58.Encode(make([]byte, 32)) }
func (f *fakeRuntime) MXEPublicKey() [32]byte       { return [32]byte{9} }

type fakeLedger struct {
	submitErr   error
	onSubmit    func(sub ledger.ScoreSubmission)
	submitted   *ledger.ScoreSubmission
	accountData []byte
	balance     int64
	signatures  []ledger.SignatureInfo
}

func (f *fakeLedger) SubmitScoreRequest(ctx context.Context, payer ed25519.PrivateKey, sub ledger.ScoreSubmission) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = &sub
	if f.onSubmit != nil {
		f.onSubmit(sub)
	}
	return "sig123", nil
}

func (f *fakeLedger) WaitForFinalization(ctx context.Context, signature string) error { return nil }

func (f *fakeLedger) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	return f.accountData, nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, address string) (int64, error) {
	return f.balance, nil
}

func (f *fakeLedger) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]ledger.SignatureInfo, error) {
	return f.signatures, nil
}

func newTestScoreService(t *testing.T, lg *fakeLedger, rt *fakeRuntime) (*ScoreService, *mxe.Stream) {
	t.Helper()
	if rt.payer == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		rt.payer = priv
	}
	stream := mxe.NewStream("ws://unused")
	cfg := &config.Config{
		ComputationTimeout: 200 * time.Millisecond,
		FinalizationWait:   time.Second,
		CooldownPeriod:     24 * time.Hour,
		ClusterOffset:      1078779259,
	}
	return &ScoreService{cfg: cfg, rt: rt, ledger: lg, events: stream}, stream
}

func TestCalculateCreditScoreSuccess(t *testing.T) {
	lg := &fakeLedger{}
	svc, stream := newTestScoreService(t, lg, &fakeRuntime{})

	// The result event arrives shortly after submission, keyed by the
	// submission's own computation offset.
	lg.onSubmit = func(sub ledger.ScoreSubmission) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			stream.Dispatch(mxe.ScoreEvent{
				ComputationOffset: sub.ComputationOffset,
				Wallet:            sub.Wallet,
				Score:             712,
				RiskLevel:         "medium",
			})
		}()
	}

	result, err := svc.CalculateCreditScore(context.Background(), testWallet, models.WalletMetrics{
		WalletAgeDays: 100, TransactionCount: 50, Balance: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Score != 712 || result.RiskLevel != "medium" {
		t.Errorf("result = %+v", result)
	}
	if result.TransactionSignature != "sig123" {
		t.Errorf("signature = %s", result.TransactionSignature)
	}
	if result.ComputationOffset != lg.submitted.ComputationOffset {
		t.Error("result offset should match the submitted offset")
	}
	if lg.submitted.ClusterOffset != 1078779259 {
		t.Errorf("ClusterOffset = %d, want the configured cluster", lg.submitted.ClusterOffset)
	}

	if got := stream.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after success = %d, want 0", got)
	}
}

func TestCalculateCreditScoreSealsMetrics(t *testing.T) {
	lg := &fakeLedger{}
	svc, stream := newTestScoreService(t, lg, &fakeRuntime{})
	lg.onSubmit = func(sub ledger.ScoreSubmission) {
		go stream.Dispatch(mxe.ScoreEvent{ComputationOffset: sub.ComputationOffset, Score: 1, RiskLevel: "low"})
	}

	metrics := models.WalletMetrics{WalletAgeDays: 365}
	if _, err := svc.CalculateCreditScore(context.Background(), testWallet, metrics); err != nil {
		t.Fatal(err)
	}

	sub := lg.submitted
	for i, ct := range sub.Ciphertexts {
		if len(ct) == 0 {
			t.Fatalf("ciphertext %d is empty", i)
		}
		// Plaintext field values must not appear in the submission.
		if len(ct) >= 8 && binary.LittleEndian.Uint64(ct[:8]) == uint64(metrics.WalletAgeDays) {
			t.Error("submission appears to carry plaintext metrics")
		}
	}
	if sub.ClientPublicKey == ([32]byte{}) {
		t.Error("client public key missing from submission")
	}
	if sub.Nonce == ([16]byte{}) {
		t.Error("nonce missing from submission")
	}
}

func TestCalculateCreditScoreTimeout(t *testing.T) {
	svc, stream := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{})

	_, err := svc.CalculateCreditScore(context.Background(), testWallet, models.WalletMetrics{})
	if !errors.Is(err, ErrComputationTimeout) {
		t.Fatalf("err = %v, want ErrComputationTimeout", err)
	}

	if got := stream.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after timeout = %d, want 0", got)
	}
}

func TestCalculateCreditScoreContextCancelled(t *testing.T) {
	svc, stream := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CalculateCreditScore(ctx, testWallet, models.WalletMetrics{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := stream.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after cancel = %d, want 0", got)
	}
}

func TestCalculateCreditScoreSubmissionErrors(t *testing.T) {
	tests := []struct {
		name      string
		submitErr error
		check     func(t *testing.T, err error)
	}{
		{
			"InsufficientFunds",
			errors.New("transaction simulation failed: custom program error: 0x1"),
			func(t *testing.T, err error) {
				if !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("err = %v, want ErrInsufficientFunds", err)
				}
			},
		},
		{
			"AccountNotInitialized",
			errors.New("AnchorError: AccountNotInitialized"),
			func(t *testing.T, err error) {
				if !errors.Is(err, ErrAccountNotInitialized) {
					t.Errorf("err = %v, want ErrAccountNotInitialized", err)
				}
			},
		},
		{
			"Cooldown",
			errors.New("program error: UpdateTooSoon"),
			func(t *testing.T, err error) {
				var cooldown *CooldownError
				if !errors.As(err, &cooldown) {
					t.Fatalf("err = %v, want *CooldownError", err)
				}
				if cooldown.Period != 24*time.Hour {
					t.Errorf("Period = %s, want 24h", cooldown.Period)
				}
			},
		},
		{
			"Unclassified",
			errors.New("rpc unavailable"),
			func(t *testing.T, err error) {
				if err == nil {
					t.Error("want an error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, stream := newTestScoreService(t, &fakeLedger{submitErr: tt.submitErr}, &fakeRuntime{})

			_, err := svc.CalculateCreditScore(context.Background(), testWallet, models.WalletMetrics{})
			tt.check(t, err)

			if got := stream.SubscriberCount(); got != 0 {
				t.Errorf("SubscriberCount() after submit failure = %d, want 0", got)
			}
		})
	}
}

func TestCalculateCreditScoreManualUsesServiceWallet(t *testing.T) {
	lg := &fakeLedger{}
	svc, stream := newTestScoreService(t, lg, &fakeRuntime{})
	lg.onSubmit = func(sub ledger.ScoreSubmission) {
		go stream.Dispatch(mxe.ScoreEvent{ComputationOffset: sub.ComputationOffset, Score: 500, RiskLevel: "medium"})
	}

	result, err := svc.CalculateCreditScore(context.Background(), "", models.WalletMetrics{WalletAgeDays: 30})
	if err != nil {
		t.Fatal(err)
	}
	if result.Wallet != testPayerWallet {
		t.Errorf("Wallet = %s, want the service wallet %s", result.Wallet, testPayerWallet)
	}
	if lg.submitted.Wallet != testPayerWallet {
		t.Errorf("submitted wallet = %s, want the service wallet", lg.submitted.Wallet)
	}
}

func TestCalculateCreditScoreValidation(t *testing.T) {
	svc, _ := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{})

	if _, err := svc.CalculateCreditScore(context.Background(), "bogus", models.WalletMetrics{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}

	var fieldErr *models.InvalidFieldError
	_, err := svc.CalculateCreditScore(context.Background(), testWallet, models.WalletMetrics{NFTCount: -1})
	if !errors.As(err, &fieldErr) {
		t.Errorf("err = %v, want *models.InvalidFieldError", err)
	}
}

func TestCalculateCreditScoreNotReady(t *testing.T) {
	svc, _ := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{notReady: true})

	if _, err := svc.CalculateCreditScore(context.Background(), testWallet, models.WalletMetrics{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestFetchWalletMetrics(t *testing.T) {
	oldBlockTime := time.Now().Add(-90 * 24 * time.Hour).Unix()
	lg := &fakeLedger{
		balance: 5_000_000_000,
		signatures: []ledger.SignatureInfo{
			{Signature: "a"},
			{Signature: "b", Err: map[string]any{"InstructionError": nil}},
			{Signature: "c", BlockTime: &oldBlockTime},
		},
	}
	svc, _ := newTestScoreService(t, lg, &fakeRuntime{})

	metrics, err := svc.FetchWalletMetrics(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.Balance != 5_000_000_000 {
		t.Errorf("Balance = %d", metrics.Balance)
	}
	if metrics.TransactionCount != 3 {
		t.Errorf("TransactionCount = %d, want 3", metrics.TransactionCount)
	}
	if metrics.FailedTxs != 1 {
		t.Errorf("FailedTxs = %d, want 1", metrics.FailedTxs)
	}
	if metrics.WalletAgeDays < 89 || metrics.WalletAgeDays > 91 {
		t.Errorf("WalletAgeDays = %d, want ~90", metrics.WalletAgeDays)
	}
	// Fields unobservable from ledger history stay zero.
	if metrics.UniqueProtocols != 0 || metrics.DefiPositions != 0 || metrics.NFTCount != 0 {
		t.Errorf("derived-only fields should be zero: %+v", metrics)
	}
}

func TestWalletStatusNoAccount(t *testing.T) {
	svc, _ := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{})

	status, err := svc.WalletStatus(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if status.HasScore {
		t.Error("HasScore should be false without an account")
	}
	if status.Score != nil || status.RiskLevel != nil {
		t.Error("score fields should be absent without an account")
	}
	if status.CooldownRemaining != "ready" {
		t.Errorf("CooldownRemaining = %q, want \"ready\"", status.CooldownRemaining)
	}
}

func TestWalletStatusCooldownElapsed(t *testing.T) {
	lastUpdated := time.Now().Add(-48 * time.Hour).Unix()
	data := make([]byte, 8+32+2+1+8+8)
	binary.LittleEndian.PutUint16(data[8+32:], 710)
	data[8+34] = 0
	binary.LittleEndian.PutUint64(data[8+35:], uint64(lastUpdated))

	svc, _ := newTestScoreService(t, &fakeLedger{accountData: data}, &fakeRuntime{})

	status, err := svc.WalletStatus(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasScore {
		t.Fatal("HasScore should be true")
	}
	if status.CooldownRemaining != "ready" {
		t.Errorf("CooldownRemaining = %q, want \"ready\" after the cooldown elapsed", status.CooldownRemaining)
	}
}

func TestWalletStatusEmptyAddressUsesServiceWallet(t *testing.T) {
	svc, _ := newTestScoreService(t, &fakeLedger{}, &fakeRuntime{})

	status, err := svc.WalletStatus(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if status.Wallet != testPayerWallet {
		t.Errorf("Wallet = %s, want the service wallet", status.Wallet)
	}
}

func TestWalletStatusWithScore(t *testing.T) {
	lastUpdated := time.Now().Add(-2 * time.Hour).Unix()
	data := make([]byte, 8+32+2+1+8+8)
	binary.LittleEndian.PutUint16(data[8+32:], 680)
	data[8+34] = 2
	binary.LittleEndian.PutUint64(data[8+35:], uint64(lastUpdated))

	svc, _ := newTestScoreService(t, &fakeLedger{accountData: data}, &fakeRuntime{})

	status, err := svc.WalletStatus(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasScore {
		t.Fatal("HasScore should be true")
	}
	if *status.Score != 680 || *status.RiskLevel != "high" {
		t.Errorf("score = %d, risk = %s", *status.Score, *status.RiskLevel)
	}
	// 2 hours into a 24h cooldown, roughly 22h should remain.
	if status.CooldownRemaining == "" {
		t.Error("CooldownRemaining should be set inside the cooldown window")
	}
}
