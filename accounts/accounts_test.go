package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "payout_1", ToSnakeCase("payout-1"))
	assert.Equal(t, "payout_main", ToSnakeCase("PayoutMain"))
	assert.Equal(t, "my_account", ToSnakeCase("my-account"))
	assert.Equal(t, "operator", ToSnakeCase("operator"))
}

func TestParsePayoutAccount(t *testing.T) {
	yaml := `
name: Payout account 1
role:
  type: payout
  recipient_address: DEznE3SWxvzHVvME3hqxdip4qDPn5j2XN7CNYhgMiqr6
  network: solana
currency_mapping:
  usd:
    - USDC
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "Payout account 1", account.Name)
	assert.True(t, account.IsPayout())
	assert.Equal(t, "DEznE3SWxvzHVvME3hqxdip4qDPn5j2XN7CNYhgMiqr6", account.Role.Payout.RecipientAddress)
	assert.Equal(t, "solana", account.Role.Payout.Network)
}

func TestParseOperatorAccountTurnkey(t *testing.T) {
	yaml := `
name: Operating account
role:
  type: operator
  keychain:
    type: turnkey
    secret: TURNKEY_SECRET
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.True(t, account.IsOperator())
	require.Equal(t, KeychainTurnkey, account.Role.Operator.Keychain.Kind)
	assert.Equal(t, "TURNKEY_SECRET", account.Role.Operator.Keychain.Turnkey.Secret)
}

func TestParseOperatorAccountBase58(t *testing.T) {
	yaml := `
name: Local operator
role:
  type: operator
  keychain:
    type: base58
    secret: "5K1gY..."
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.True(t, account.IsOperator())
	require.Equal(t, KeychainBase58, account.Role.Operator.Keychain.Kind)
	assert.Equal(t, "5K1gY...", account.Role.Operator.Keychain.Base58.Secret)
}

func TestParseFanoutAccount(t *testing.T) {
	yaml := `
name: Revenue split
role:
  type: fanout
  operator: ops
  recipients:
    - account: payout_1
      percentage: 90
    - account: platform_fee
      fixed_amount: 1000000
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.True(t, account.IsFanout())
	assert.Equal(t, "ops", account.Role.Fanout.Operator)
	require.Len(t, account.Role.Fanout.Recipients, 2)
	assert.Equal(t, "payout_1", account.Role.Fanout.Recipients[0].Account)
	require.NotNil(t, account.Role.Fanout.Recipients[0].Percentage)
	assert.Equal(t, 90.0, *account.Role.Fanout.Recipients[0].Percentage)
	require.NotNil(t, account.Role.Fanout.Recipients[1].FixedAmount)
	assert.Equal(t, uint64(1000000), *account.Role.Fanout.Recipients[1].FixedAmount)
}

func TestIDFromFilename(t *testing.T) {
	yaml := `
name: Test account
role:
  type: payout
  recipient_address: ABC123
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "", account.ID)

	account.ID = ToSnakeCase("payout-main")
	assert.Equal(t, "payout_main", account.ID)
}

func TestExplicitIDNotOverwritten(t *testing.T) {
	yaml := `
id: my_custom_id
name: Test account
role:
  type: payout
  recipient_address: ABC123
`
	account, err := ParseAccountConfig([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "my_custom_id", account.ID)
}

func TestLoadAccountsFromDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payout-1.yaml", `
name: Payout account 1
role:
  type: payout
  recipient_address: DEznE3SWxvzHVvME3hqxdip4qDPn5j2XN7CNYhgMiqr6
`)
	writeFile(t, dir, "operator.yaml", `
name: Operating account
role:
  type: operator
  keychain:
    type: base58
    secret: "5K1gY..."
`)

	cfg, err := LoadAccountsFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Len())

	payout, ok := cfg.GetByID("payout_1")
	require.True(t, ok)
	assert.True(t, payout.IsPayout())

	primary, ok := cfg.PrimaryPayout()
	require.True(t, ok)
	assert.Equal(t, "payout_1", primary.ID)

	assert.Len(t, cfg.Operators(), 1)
}

func TestLoadAccountsFromMissingDirReturnsEmpty(t *testing.T) {
	cfg, err := LoadAccountsFromDir(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Len())
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
