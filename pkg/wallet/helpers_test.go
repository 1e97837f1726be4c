package wallet

import (
	"context"
	"testing"

	"github.com/spraayhq/walletcore/pkg/money"
)

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	reference, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference %q: %v", raw, err)
	}
	return reference
}

func mustPositiveKobo(test *testing.T, raw int64) money.PositiveKobo {
	test.Helper()
	amount, err := money.NewPositiveKobo(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustApplyInput(test *testing.T, accountID AccountID, direction Direction, amount int64, reference string, source Source) ApplyInput {
	test.Helper()
	input, err := NewApplyInput(
		accountID,
		direction,
		mustPositiveKobo(test, amount),
		mustReference(test, reference),
		"test movement",
		1699999000,
		source,
		mustMetadata(test, "{}"),
	)
	if err != nil {
		test.Fatalf("apply input: %v", err)
	}
	return input
}

func seedAccount(test *testing.T, service *Service, store *stubStore, accountID AccountID, openingBalance int64) {
	test.Helper()
	if _, err := service.OpenAccount(context.Background(), accountID, "9901234567", "090267"); err != nil {
		test.Fatalf("open account: %v", err)
	}
	if openingBalance > 0 {
		input := mustApplyInput(test, accountID, DirectionCredit, openingBalance, "seed-"+accountID.String(), SourceTransfer)
		if _, _, err := service.Apply(context.Background(), input); err != nil {
			test.Fatalf("seed balance: %v", err)
		}
	}
	if store != nil {
		account, err := store.GetAccount(context.Background(), accountID)
		if err != nil {
			test.Fatalf("seeded account missing: %v", err)
		}
		if account.BalanceKobo.Int64() != openingBalance {
			test.Fatalf("expected seeded balance %d, got %d", openingBalance, account.BalanceKobo.Int64())
		}
	}
}
