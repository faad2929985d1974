package wallet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heartlink/backend/internal/access"
	"github.com/heartlink/backend/internal/config"
	"github.com/heartlink/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store with real transaction semantics: writes are buffered in the
// tx and applied on Commit, per-wallet locks are held until the tx ends. This
// lets the tests exercise rollback-on-failure and concurrent serialization,
// not just the happy path.
// ---------------------------------------------------------------------------

type walletKey struct {
	user  uuid.UUID
	wtype string
}

type memStore struct {
	mu      sync.Mutex
	locks   map[walletKey]*sync.Mutex
	wallets map[walletKey]*models.Wallet
	txns    []*models.Transaction

	failInsertTxn bool
}

func newMemStore() *memStore {
	return &memStore{
		locks:   make(map[walletKey]*sync.Mutex),
		wallets: make(map[walletKey]*models.Wallet),
	}
}

func (s *memStore) lockFor(k walletKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

type memTx struct {
	pgx.Tx // nil; only Commit and Rollback are used
	store  *memStore
	done   bool

	wallets map[walletKey]*models.Wallet
	txns    []*models.Transaction
	locked  []walletKey
}

func (s *memStore) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{store: s, wallets: make(map[walletKey]*models.Wallet)}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("tx already closed")
	}
	t.done = true
	t.store.mu.Lock()
	for k, w := range t.wallets {
		cp := *w
		t.store.wallets[k] = &cp
	}
	t.store.txns = append(t.store.txns, t.txns...)
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *memTx) release() {
	for _, k := range t.locked {
		t.store.lockFor(k).Unlock()
	}
	t.locked = nil
}

// acquire takes the per-wallet lock and loads a working copy into the tx.
func (t *memTx) acquire(k walletKey) *models.Wallet {
	if w, ok := t.wallets[k]; ok {
		return w
	}
	held := false
	for _, l := range t.locked {
		if l == k {
			held = true
			break
		}
	}
	if !held {
		t.store.lockFor(k).Lock()
		t.locked = append(t.locked, k)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	w, ok := t.store.wallets[k]
	if !ok {
		return nil
	}
	cp := *w
	t.wallets[k] = &cp
	return &cp
}

func (s *memStore) GetForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID, walletType string) (*models.Wallet, error) {
	t := tx.(*memTx)
	w := t.acquire(walletKey{userID, walletType})
	if w == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) Get(_ context.Context, userID uuid.UUID, walletType string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletKey{userID, walletType}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) CreateWallet(_ context.Context, tx pgx.Tx, w *models.Wallet) error {
	t := tx.(*memTx)
	k := walletKey{w.UserID, w.Type}
	if existing := t.acquire(k); existing != nil {
		return errors.New("wallet already exists")
	}
	cp := *w
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	t.wallets[k] = &cp
	return nil
}

func (s *memStore) ApplyDelta(_ context.Context, tx pgx.Tx, userID uuid.UUID, walletType string, delta int) (int, error) {
	t := tx.(*memTx)
	w := t.acquire(walletKey{userID, walletType})
	if w == nil {
		return 0, pgx.ErrNoRows
	}
	if w.Balance+delta < 0 {
		return 0, pgx.ErrNoRows
	}
	w.Balance += delta
	if walletType == models.WalletFunding {
		if delta > 0 {
			w.TotalPurchased += delta
		} else {
			w.TotalSpent += -delta
		}
	}
	return w.Balance, nil
}

func (s *memStore) SetNextRedemption(_ context.Context, tx pgx.Tx, userID uuid.UUID, next time.Time) error {
	t := tx.(*memTx)
	w := t.acquire(walletKey{userID, models.WalletRedeem})
	if w == nil {
		return pgx.ErrNoRows
	}
	w.NextRedemption = next
	return nil
}

func (s *memStore) InsertTransaction(_ context.Context, tx pgx.Tx, txn *models.Transaction) error {
	if s.failInsertTxn {
		return errors.New("forced transaction insert failure")
	}
	t := tx.(*memTx)
	cp := *txn
	cp.CreatedAt = time.Now()
	t.txns = append(t.txns, &cp)
	return nil
}

func (s *memStore) ListTransactions(_ context.Context, userID uuid.UUID, f Filter, page, perPage int) ([]*models.Transaction, int, error) {
	matched := s.filtered(userID, f)
	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (s *memStore) SumTransactions(_ context.Context, userID uuid.UUID, f Filter) (map[string]int, error) {
	sums := make(map[string]int)
	for _, t := range s.filtered(userID, f) {
		sums[t.Type] += t.Amount
	}
	return sums, nil
}

func (s *memStore) filtered(userID uuid.UUID, f Filter) []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for _, t := range s.txns {
		if t.UserID != userID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.WalletType != "" && t.WalletType != f.WalletType {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// signedSum reconstructs a wallet balance from its ledger rows.
func (s *memStore) signedSum(userID uuid.UUID, walletType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, t := range s.txns {
		if t.UserID == userID && t.WalletType == walletType {
			sum += models.TxSign(t.Type) * t.Amount
		}
	}
	return sum
}

func (s *memStore) txnCount(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txns {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testConfig() config.LedgerConfig {
	return config.LedgerConfig{
		InitialCredits:   3,
		CreditLimit:      5,
		RedemptionAmount: 1,
		RedemptionWindow: 24 * time.Hour,
	}
}

func newTestService(store *memStore) *Service {
	return NewService(store, access.NewStaticGate(access.DefaultGrants()), testConfig())
}

func seedWallet(store *memStore, userID uuid.UUID, walletType string, balance int) {
	store.wallets[walletKey{userID, walletType}] = &models.Wallet{
		UserID:  userID,
		Type:    walletType,
		Balance: balance,
	}
}

// ---------------------------------------------------------------------------
// Mutate
// ---------------------------------------------------------------------------

func TestMutate_DepositAndDebit(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	seedWallet(store, user, models.WalletFunding, 0)
	svc := newTestService(store)

	ctx := context.Background()
	balance, txID, err := svc.Mutate(ctx, user, models.WalletFunding, 10, models.TxTopUp, "top-up: Starter")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance after deposit: got %d, want 10", balance)
	}
	if txID == uuid.Nil {
		t.Error("deposit should return a transaction id")
	}

	balance, _, err = svc.Mutate(ctx, user, models.WalletFunding, -4, models.TxPurchase, "unlock profile")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 6 {
		t.Errorf("balance after debit: got %d, want 6", balance)
	}

	w, _ := store.Get(ctx, user, models.WalletFunding)
	if w.TotalPurchased != 10 || w.TotalSpent != 4 {
		t.Errorf("counters: got purchased=%d spent=%d, want 10/4", w.TotalPurchased, w.TotalSpent)
	}
	if got := store.signedSum(user, models.WalletFunding); got != w.Balance {
		t.Errorf("ledger sum %d does not match balance %d", got, w.Balance)
	}
}

func TestMutate_InsufficientBalanceWritesNothing(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	seedWallet(store, user, models.WalletFunding, 3)
	svc := newTestService(store)

	_, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, -5, models.TxDebit, "over-debit")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}

	w, _ := store.Get(context.Background(), user, models.WalletFunding)
	if w.Balance != 3 {
		t.Errorf("balance must be unchanged: got %d, want 3", w.Balance)
	}
	if n := store.txnCount(user); n != 0 {
		t.Errorf("no transaction row must be written, got %d", n)
	}
}

func TestMutate_LazyFundingWalletCreation(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	balance, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, 10, models.TxCredit, "administrative grant")
	if err != nil {
		t.Fatalf("grant on missing wallet: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance: got %d, want 10", balance)
	}

	// A missing redeem wallet is never created lazily.
	_, _, err = svc.Mutate(context.Background(), user, models.WalletRedeem, 1, models.TxBonus, "bonus")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound for redeem wallet, got: %v", err)
	}
}

func TestMutate_SignMismatchRejected(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	seedWallet(store, user, models.WalletFunding, 10)
	svc := newTestService(store)

	_, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, -5, models.TxTopUp, "bad")
	if !errors.Is(err, ErrInvalidMutation) {
		t.Errorf("negative TOP_UP: expected ErrInvalidMutation, got %v", err)
	}
	_, _, err = svc.Mutate(context.Background(), user, models.WalletFunding, 0, models.TxCredit, "bad")
	if !errors.Is(err, ErrInvalidMutation) {
		t.Errorf("zero delta: expected ErrInvalidMutation, got %v", err)
	}
	if n := store.txnCount(user); n != 0 {
		t.Errorf("no transaction rows expected, got %d", n)
	}
}

func TestMutate_TransactionWriteFailureRollsBackBalance(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	seedWallet(store, user, models.WalletFunding, 7)
	store.failInsertTxn = true
	svc := newTestService(store)

	_, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, 5, models.TxTopUp, "doomed")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got: %v", err)
	}

	w, _ := store.Get(context.Background(), user, models.WalletFunding)
	if w.Balance != 7 {
		t.Errorf("balance write must roll back with the transaction write: got %d, want 7", w.Balance)
	}
	if n := store.txnCount(user); n != 0 {
		t.Errorf("no transaction row expected, got %d", n)
	}
}

func TestMutate_ConcurrentMutationsStayConsistent(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	seedWallet(store, user, models.WalletFunding, 0)
	svc := newTestService(store)

	const deposits = 25
	const debits = 10

	var wg sync.WaitGroup
	for i := 0; i < deposits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, 2, models.TxTopUp, "deposit"); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	var failed int
	var mu sync.Mutex
	for i := 0; i < debits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Mutate(context.Background(), user, models.WalletFunding, -1, models.TxDebit, "debit")
			if errors.Is(err, ErrInsufficientBalance) {
				mu.Lock()
				failed++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	w, _ := store.Get(context.Background(), user, models.WalletFunding)
	want := deposits*2 - (debits - failed)
	if w.Balance != want {
		t.Errorf("balance: got %d, want %d", w.Balance, want)
	}
	if got := store.signedSum(user, models.WalletFunding); got != w.Balance {
		t.Errorf("ledger sum %d does not match balance %d after concurrent mutations", got, w.Balance)
	}
}

// ---------------------------------------------------------------------------
// Grant
// ---------------------------------------------------------------------------

func TestGrant_CapabilityGated(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	ctx := context.Background()
	if _, _, err := svc.Grant(ctx, "member", user, models.WalletFunding, 10, "sorry"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("member grant: expected ErrUnauthorized, got %v", err)
	}
	if n := store.txnCount(user); n != 0 {
		t.Fatalf("denied grant must write nothing, got %d rows", n)
	}

	balance, _, err := svc.Grant(ctx, "admin", user, models.WalletFunding, 10, "goodwill")
	if err != nil {
		t.Fatalf("admin grant: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance: got %d, want 10", balance)
	}
	txns, _, _ := store.ListTransactions(ctx, user, Filter{}, 1, 10)
	if len(txns) != 1 || txns[0].Type != models.TxCredit {
		t.Fatalf("expected one CREDIT transaction, got %+v", txns)
	}
	if !strings.Contains(txns[0].Description, "goodwill") {
		t.Errorf("reason should be folded into description, got %q", txns[0].Description)
	}
}

func TestGrant_MayExceedRedeemCap(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	store.wallets[walletKey{user, models.WalletRedeem}] = &models.Wallet{
		UserID: user, Type: models.WalletRedeem, Balance: 5, Limit: 5,
	}
	svc := newTestService(store)

	balance, _, err := svc.Grant(context.Background(), "admin", user, models.WalletRedeem, 10, "")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if balance != 15 {
		t.Errorf("administrative grant bypasses the cap: got %d, want 15", balance)
	}
}

// ---------------------------------------------------------------------------
// Registration wallets + end-to-end ledger scenario
// ---------------------------------------------------------------------------

func TestCreateUserWallets_SeedsWelcomeCredits(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	if err := svc.CreateUserWallets(ctx, tx, user); err != nil {
		t.Fatalf("CreateUserWallets: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	redeem, err := store.Get(ctx, user, models.WalletRedeem)
	if err != nil {
		t.Fatalf("redeem wallet missing: %v", err)
	}
	if redeem.Balance != 3 {
		t.Errorf("redeem balance: got %d, want 3", redeem.Balance)
	}
	if redeem.Limit != 5 {
		t.Errorf("redeem limit: got %d, want 5", redeem.Limit)
	}
	funding, err := store.Get(ctx, user, models.WalletFunding)
	if err != nil {
		t.Fatalf("funding wallet missing: %v", err)
	}
	if funding.Balance != 0 {
		t.Errorf("funding balance: got %d, want 0", funding.Balance)
	}
	if got := store.signedSum(user, models.WalletRedeem); got != 3 {
		t.Errorf("welcome credits must be ledgered: sum=%d, want 3", got)
	}
}

func TestLedgerScenario_NewUserGrantAndTopUp(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	if err := svc.CreateUserWallets(ctx, tx, user); err != nil {
		t.Fatalf("CreateUserWallets: %v", err)
	}
	_ = tx.Commit(ctx)

	// Admin grants 10 credits to the funding wallet.
	if _, _, err := svc.Grant(ctx, "admin", user, models.WalletFunding, 10, "launch promo"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// Approved top-up deposits a 50-credit package.
	balance, _, err := svc.Mutate(ctx, user, models.WalletFunding, 50, models.TxTopUp, "top-up: Regular")
	if err != nil {
		t.Fatalf("top-up deposit: %v", err)
	}
	if balance != 60 {
		t.Errorf("funding balance: got %d, want 60", balance)
	}

	for _, wt := range []string{models.WalletFunding, models.WalletRedeem} {
		w, _ := store.Get(ctx, user, wt)
		if got := store.signedSum(user, wt); got != w.Balance {
			t.Errorf("%s: ledger sum %d does not match balance %d", wt, got, w.Balance)
		}
	}

	page, err := svc.Transactions(ctx, user, Filter{WalletType: models.WalletFunding}, 1, 10)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("funding transactions: got %d, want 2", page.Total)
	}
	if page.Sums[models.TxCredit] != 10 || page.Sums[models.TxTopUp] != 50 {
		t.Errorf("aggregate sums wrong: %+v", page.Sums)
	}
}

func TestTransactions_DateRangeFilter(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, day := range []int{0, 1, 2, 3} {
		store.txns = append(store.txns, &models.Transaction{
			ID:         uuid.New(),
			UserID:     user,
			Type:       models.TxTopUp,
			WalletType: models.WalletFunding,
			Amount:     10 + i,
			CreatedAt:  base.AddDate(0, 0, day),
		})
	}

	// From is inclusive, To is exclusive: days 1 and 2 match.
	page, err := svc.Transactions(context.Background(), user, Filter{
		From: base.AddDate(0, 0, 1),
		To:   base.AddDate(0, 0, 3),
	}, 1, 10)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total: got %d, want 2", page.Total)
	}
	for _, txn := range page.Transactions {
		if txn.CreatedAt.Before(base.AddDate(0, 0, 1)) || !txn.CreatedAt.Before(base.AddDate(0, 0, 3)) {
			t.Errorf("transaction at %v outside [day1, day3)", txn.CreatedAt)
		}
	}
	if page.Sums[models.TxTopUp] != 11+12 {
		t.Errorf("sums under the same range: got %+v", page.Sums)
	}

	// Open-ended ranges.
	page, _ = svc.Transactions(context.Background(), user, Filter{From: base.AddDate(0, 0, 3)}, 1, 10)
	if page.Total != 1 {
		t.Errorf("From-only total: got %d, want 1", page.Total)
	}
	page, _ = svc.Transactions(context.Background(), user, Filter{To: base.AddDate(0, 0, 1)}, 1, 10)
	if page.Total != 1 {
		t.Errorf("To-only total: got %d, want 1", page.Total)
	}
}

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

func TestBalances(t *testing.T) {
	user := uuid.New()
	store := newMemStore()
	svc := newTestService(store)

	if _, err := svc.Balances(context.Background(), user); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("unknown user: expected ErrWalletNotFound, got %v", err)
	}

	store.wallets[walletKey{user, models.WalletRedeem}] = &models.Wallet{
		UserID: user, Type: models.WalletRedeem, Balance: 2, Limit: 5,
	}
	b, err := svc.Balances(context.Background(), user)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	// Funding wallet missing reads as zero (it appears lazily on first deposit).
	if b.FundingBalance != 0 || b.RedeemBalance != 2 {
		t.Errorf("balances: got funding=%d redeem=%d, want 0/2", b.FundingBalance, b.RedeemBalance)
	}
}
